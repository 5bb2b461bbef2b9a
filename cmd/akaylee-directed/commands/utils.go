/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Shared utilities for the akaylee-directed commands: configuration loading, per-command
flag binding and logger setup.
*/

package commands

import (
	"fmt"
	"strings"

	"github.com/kleascm/akaylee-directed/pkg/logging"
	"github.com/kleascm/akaylee-directed/pkg/monitoring"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is the toolchain version stamped into reports.
const Version = "1.0.0"

var (
	logger   *logging.Logger
	profiler *monitoring.Profiler
)

// LoadConfig reads the optional config file and enables AKAYLEE_* environment
// overrides. Keys use underscores: --out-dir is out_dir and AKAYLEE_OUT_DIR.
func LoadConfig() error {
	viper.SetEnvPrefix("AKAYLEE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// BindFlags binds the running command's flags, including inherited ones, so
// that flags of other commands sharing a key never shadow them.
func BindFlags(cmd *cobra.Command) error {
	var err error
	bind := func(f *pflag.Flag) {
		if err == nil {
			err = viper.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
	return err
}

// SetupLogging builds the process logger from the log_* keys.
func SetupLogging() error {
	cfg := logging.DefaultLoggerConfig()
	cfg.Level = logging.LogLevel(viper.GetString("log_level"))
	cfg.Format = logging.LogFormat(viper.GetString("log_format"))
	cfg.OutputDir = viper.GetString("log_dir")
	if n := viper.GetInt("log_max_files"); n > 0 {
		cfg.MaxFiles = n
	}
	if n := viper.GetInt64("log_max_size"); n > 0 {
		cfg.MaxSize = n
	}
	cfg.Colors = !viper.GetBool("no_color")

	l, err := logging.NewLogger(cfg)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// Prepare is the root PersistentPreRunE.
func Prepare(cmd *cobra.Command, args []string) error {
	if err := BindFlags(cmd); err != nil {
		return err
	}
	if err := LoadConfig(); err != nil {
		return err
	}
	if err := SetupLogging(); err != nil {
		return err
	}
	return StartProfiling()
}

// StartProfiling records CPU, heap, goroutine and mutex profiles of this run
// into profile_dir when it is set.
func StartProfiling() error {
	dir := viper.GetString("profile_dir")
	if dir == "" {
		return nil
	}
	profiler = monitoring.NewProfiler(&monitoring.ProfilerConfig{
		OutputDir:     dir,
		CPUProfile:    true,
		MemoryProfile: true,
		MutexProfile:  true,
	}, logger.GetLogger())
	return profiler.Start()
}

// Shutdown stops profiling and closes the logger. Safe to call when setup
// never ran.
func Shutdown() error {
	var err error
	if profiler != nil && profiler.IsRunning() {
		_, err = profiler.Stop()
	}
	profiler = nil
	if logger == nil {
		return err
	}
	if cerr := logger.Close(); err == nil {
		err = cerr
	}
	return err
}
