/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: main.go
Description: Command-line interface for the directed fuzzing toolchain. distance and instrument
run the build-time pipeline, fuzz runs the directed engine against an instrumented target, show
inspects a distance map. Flags, AKAYLEE_* variables and an optional config file all feed viper.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kleascm/akaylee-directed/cmd/akaylee-directed/commands"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "akaylee-directed",
		Short: "Akaylee Directed - distance-guided greybox fuzzing toolchain",
		Long: `Akaylee Directed computes, at build time, how far every basic block of a program is
from a set of target locations, embeds those distances into the program, and fuzzes the
instrumented program with a power schedule that moves energy toward inputs that get closer.`,
		Version:           commands.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: commands.Prepare,
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Configuration file path (yaml, json, toml)")
	pf.String("log-level", "info", "Logging level (debug, info, warn, error)")
	pf.String("log-format", "custom", "Log format (text, json, custom)")
	pf.String("log-dir", "", "Directory for timestamped log files (empty logs to the console only)")
	pf.Int("log-max-files", 10, "Maximum number of log files to keep")
	pf.Int64("log-max-size", 100*1024*1024, "Maximum log file size in bytes")
	pf.Bool("no-color", false, "Disable colored console output")
	pf.String("profile-dir", "", "Write CPU, heap, goroutine and mutex profiles of this run here")

	distanceCmd := &cobra.Command{
		Use:   "distance",
		Short: "Compute the distance map and instrumentation plan",
		Long: `Resolve the targets, build the call graph, compute function and block distances,
emit the distance file and build the instrumentation plan. Aborts at the first fatal error
with a stage-tagged message.`,
		RunE: commands.RunDistance,
	}
	addProgramFlags(distanceCmd)
	distanceCmd.Flags().String("targets", "", "Targets file, one file:line per line (required)")
	distanceCmd.Flags().String("annotations", "", "YAML file mapping callers to indirect callees")
	distanceCmd.Flags().String("normalization", "diameter", "Block distance normalization (diameter, none)")
	distanceCmd.Flags().Bool("verify-determinism", false, "Compute the map twice and fail on any difference")
	rootCmd.AddCommand(distanceCmd)

	instrumentCmd := &cobra.Command{
		Use:   "instrument",
		Short: "Build the instrumentation plan from an existing distance file",
		RunE:  commands.RunInstrument,
	}
	addProgramFlags(instrumentCmd)
	rootCmd.AddCommand(instrumentCmd)

	fuzzCmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Fuzz an instrumented target toward its targets",
		Long: `Start the directed fuzzing process. Every execution reports its distance to the
targets through an inherited shared-memory channel; the annealing power schedule shifts
mutation energy from exploration toward the closest inputs as time_to_exploit elapses.`,
		RunE: commands.RunFuzz,
	}
	ff := fuzzCmd.Flags()
	ff.String("target", "", "Path to the instrumented target binary (required)")
	ff.StringSlice("args", nil, "Target arguments; @@ is the input file, @cov@ the coverprofile path")
	ff.StringSlice("env", nil, "Extra environment variables for the target (KEY=VALUE)")
	ff.String("input-mode", "file", "How the target receives input (file, stdin)")
	ff.Int("workers", 0, "Number of parallel workers (0 = number of CPUs)")
	ff.Duration("timeout", time.Second, "Maximum execution time per test case")
	ff.String("corpus", "", "Directory containing seed inputs (required)")
	ff.String("output", "./fuzz_output", "Directory for queue entries, crashes and statistics")
	ff.String("crash-dir", "", "Directory for crash files (default <output>/crashes)")
	ff.Int("max-corpus-size", 10000, "Maximum number of test cases in corpus")
	ff.Float64("mutation-rate", 0.01, "Probability of mutation per byte")
	ff.Int("max-mutations", 16, "Mutations per source at neutral energy")
	ff.String("coverage-type", "none", "Coverage signal besides distance (none, profile)")
	ff.String("scheduler", "directed", "Power schedule (directed, priority)")
	ff.Duration("time-to-exploit", 0, "Time for the schedule to move from exploration to exploitation (0 = --duration, or 45m without one)")
	ff.Duration("duration", 0, "Campaign budget (0 = until interrupted)")
	ff.Int("max-crashes", 0, "Stop after this many unique crashes (0 = unlimited)")
	ff.StringSlice("crash-patterns", nil, "Regular expressions marking crashes as interesting")
	ff.Duration("hang-threshold", 0, "Report runs slower than this as hangs (0 = timeouts only)")
	ff.String("metrics-addr", "", "Serve Prometheus metrics and /stats on this address")
	rootCmd.AddCommand(fuzzCmd)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the blocks closest to the targets",
		RunE:  commands.RunShow,
	}
	showCmd.Flags().String("out-dir", "./akaylee-out", "Pipeline output directory")
	showCmd.Flags().String("distance-file", "", "Distance file (default <out-dir>/distance.cfg.txt)")
	showCmd.Flags().String("program", "", "Program representation for function names")
	showCmd.Flags().Int("top", 20, "Number of blocks to print (0 = all)")
	rootCmd.AddCommand(showCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   commands.RunVersion,
	})

	err := rootCmd.Execute()
	if cerr := commands.Shutdown(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// addProgramFlags adds the inputs shared by the pipeline commands.
func addProgramFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("program", "", "Program representation (YAML/JSON, optionally .xz)")
	f.String("source-dir", "", "Go module to load instead of a program file")
	f.StringSlice("packages", []string{"./..."}, "Package patterns to load from --source-dir")
	f.String("out-dir", "./akaylee-out", "Output directory")
	f.String("distance-file", "", "Distance file (default <out-dir>/distance.cfg.txt)")
	f.String("instrumented-dir", "", "Output for rewritten sources (default <out-dir>/instrumented)")
	f.Bool("rewrite-sources", false, "Insert probes into a copy of --source-dir")
	f.Int("workers", 0, "Parallel workers (0 = number of CPUs)")
}
