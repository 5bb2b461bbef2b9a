/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: fuzz.go
Description: fuzz command. Wires the process executor, the directed analyzer, the byte-level
mutators and the reporters into the engine, optionally serves Prometheus metrics, and runs
until interrupted or until the campaign ends on its own.
*/

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/kleascm/akaylee-directed/pkg/analysis"
	"github.com/kleascm/akaylee-directed/pkg/core"
	"github.com/kleascm/akaylee-directed/pkg/coverage"
	"github.com/kleascm/akaylee-directed/pkg/execution"
	"github.com/kleascm/akaylee-directed/pkg/interfaces"
	"github.com/kleascm/akaylee-directed/pkg/strategies"
	"github.com/kleascm/akaylee-directed/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunFuzz executes the main fuzzing process
func RunFuzz(cmd *cobra.Command, args []string) error {
	config := &interfaces.FuzzerConfig{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	engine := core.NewEngine(logger.GetLogger())
	if err := setupFuzzerComponents(engine, config); err != nil {
		return fmt.Errorf("failed to setup fuzzer components: %w", err)
	}
	prom := core.NewPrometheusReporter()
	engine.AddReporter(prom)

	if err := engine.Initialize(config); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := viper.GetString("metrics_addr"); addr != "" {
		if err := serveMetrics(ctx, addr, prom, engine); err != nil {
			return err
		}
	}

	if err := engine.Start(); err != nil {
		return fmt.Errorf("failed to start fuzzer: %w", err)
	}
	select {
	case <-ctx.Done():
		logger.GetLogger().Info("Received shutdown signal, stopping fuzzer")
	case <-engine.Done():
	}
	if err := engine.Stop(); err != nil {
		return fmt.Errorf("failed to stop fuzzer: %w", err)
	}

	stats := engine.GetStats()
	if config.OutputDir != "" {
		path, err := utils.WriteMetricsResult(config.OutputDir, "fuzz", Version, stats)
		if err != nil {
			return err
		}
		logger.GetLogger().WithField("path", path).Info("Final statistics written")
	}
	printFinalStats(cmd, stats, engine.GetCorpus())
	return nil
}

// setupFuzzerComponents configures all fuzzer components
func setupFuzzerComponents(engine *core.Engine, config *interfaces.FuzzerConfig) error {
	lg := logger.GetLogger()
	engine.SetExecutor(execution.NewProcessExecutor(lg))

	var collector coverage.CoverageCollector
	if config.CoverageType == "profile" {
		collector = coverage.NewProfileCollector()
	}
	analyzer := analysis.NewDirectedAnalyzer(collector, lg)
	if patterns := viper.GetStringSlice("crash_patterns"); len(patterns) > 0 {
		matcher, err := analysis.NewRegexCrashMatcher(patterns)
		if err != nil {
			return err
		}
		analyzer.SetCrashMatcher(matcher)
	}
	analyzer.SetHangThreshold(viper.GetDuration("hang_threshold"))
	engine.SetAnalyzer(analyzer)

	engine.SetMutators(createMutators(config))
	engine.AddReporter(core.NewLoggerReporter(logger))
	return nil
}

// createMutators returns the byte-level set plus a havoc-style stack of three.
func createMutators(config *interfaces.FuzzerConfig) []interfaces.Mutator {
	mutators := strategies.DefaultMutators(config.MutationRate)
	havoc := strategies.NewCompositeMutator(mutators, 3, true)
	return append(mutators, havoc)
}

// serveMetrics exposes /metrics and /stats until ctx ends.
func serveMetrics(ctx context.Context, addr string, prom *core.PrometheusReporter, engine *core.Engine) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prom.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(engine.GetStats())
	})

	access := logger.GetLogger().WriterLevel(logrus.DebugLevel)
	server := &http.Server{
		Handler:           handlers.CompressHandler(handlers.CombinedLoggingHandler(access, mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		server.Close()
		access.Close()
	}()
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.GetLogger().WithError(err).Error("Metrics server failed")
		}
	}()

	logger.GetLogger().WithField("addr", ln.Addr().String()).Info("Serving metrics")
	return nil
}

// printFinalStats prints the campaign summary and the closest inputs.
func printFinalStats(cmd *cobra.Command, stats *core.FuzzerStats, corpus *core.Corpus) {
	out := cmd.OutOrStdout()
	duration := time.Since(stats.StartTime).Round(time.Second)

	fmt.Fprintln(out, "Final Statistics")
	fmt.Fprintln(out, "================")
	fmt.Fprintf(out, "Total Runtime:     %v\n", duration)
	fmt.Fprintf(out, "Total Executions:  %d\n", stats.Executions)
	fmt.Fprintf(out, "Crashes:           %d (%d unique)\n", stats.Crashes, stats.UniqueCrashes)
	fmt.Fprintf(out, "Hangs / Timeouts:  %d / %d\n", stats.Hangs, stats.Timeouts)
	fmt.Fprintf(out, "Corpus Size:       %d\n", stats.CorpusSize)
	fmt.Fprintf(out, "Distance Samples:  %d (%d channel failures, %d runs without distance)\n",
		stats.DistanceSamples, stats.ChannelFailures, stats.NoDistanceRuns)
	if stats.BestDistance >= 0 {
		fmt.Fprintf(out, "Best Distance:     %.4f\n", stats.BestDistance)
	} else {
		fmt.Fprintln(out, "Best Distance:     none reported")
	}
	fmt.Fprintf(out, "Temperature:       %.4f\n", stats.Temperature)
	if secs := duration.Seconds(); secs > 0 {
		fmt.Fprintf(out, "Average Rate:      %.1f executions/sec\n", float64(stats.Executions)/secs)
	}

	if corpus == nil {
		return
	}
	closest := corpus.Closest(5)
	if len(closest) == 0 {
		return
	}
	fmt.Fprintln(out, "\nClosest inputs")
	for _, tc := range closest {
		fmt.Fprintf(out, "  %s  distance=%.4f  generation=%d\n", tc.ID, tc.Distance.Average, tc.Generation)
	}
}
