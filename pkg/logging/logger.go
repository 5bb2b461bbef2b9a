/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logger.go
Description: Logging for the directed fuzzing toolchain. Wraps logrus with a timestamped log file
per run, JSON, text or custom output, size-based rotation and pruning of old files, plus helpers
for the pipeline stages, distance observations, executions, crashes and statistics.
*/

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warn"
	LogLevelError   LogLevel = "error"
	LogLevelFatal   LogLevel = "fatal"
)

// LogFormat represents the logging format
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"
	LogFormatText   LogFormat = "text"
	LogFormatCustom LogFormat = "custom"
)

// filePrefix names every log file this package writes.
const filePrefix = "akaylee-directed_"

// LoggerConfig holds the configuration for the logger. An empty OutputDir
// logs to the console only.
type LoggerConfig struct {
	Level     LogLevel  `json:"level" mapstructure:"level"`
	Format    LogFormat `json:"format" mapstructure:"format"`
	OutputDir string    `json:"output_dir" mapstructure:"output_dir"`
	MaxFiles  int       `json:"max_files" mapstructure:"max_files"`
	MaxSize   int64     `json:"max_size" mapstructure:"max_size"` // in bytes
	Timestamp bool      `json:"timestamp" mapstructure:"timestamp"`
	Caller    bool      `json:"caller" mapstructure:"caller"`
	Colors    bool      `json:"colors" mapstructure:"colors"`

	// Console receives every entry besides the file. Defaults to stderr.
	Console io.Writer `json:"-" mapstructure:"-"`
}

// DefaultLoggerConfig returns console-only info logging in the custom format.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:     LogLevelInfo,
		Format:    LogFormatCustom,
		MaxFiles:  10,
		MaxSize:   100 * 1024 * 1024,
		Timestamp: true,
		Colors:    true,
	}
}

// Validate checks the LoggerConfig for invalid or missing values.
func (c *LoggerConfig) Validate() error {
	if c.OutputDir != "" {
		if c.MaxFiles <= 0 {
			return fmt.Errorf("max_files must be positive")
		}
		if c.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive")
		}
	}
	switch c.Format {
	case LogFormatJSON, LogFormatText, LogFormatCustom:
	default:
		return fmt.Errorf("unsupported log format: %s", c.Format)
	}
	switch c.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelFatal:
	default:
		return fmt.Errorf("unsupported log level: %s", c.Level)
	}
	return nil
}

// Logger provides comprehensive logging functionality
type Logger struct {
	config    *LoggerConfig
	logger    *logrus.Logger
	startTime time.Time

	mu         sync.Mutex
	fileHandle *os.File
	filePath   string
	seq        int
}

// NewLogger creates a new logger instance. A nil config uses
// DefaultLoggerConfig.
func NewLogger(config *LoggerConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger config: %w", err)
	}
	if config.Console == nil {
		config.Console = os.Stderr
	}

	l := &Logger{
		config:    config,
		logger:    logrus.New(),
		startTime: time.Now(),
	}
	if err := l.setup(); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return l, nil
}

// setup configures the logger with the given configuration
func (l *Logger) setup() error {
	level, err := logrus.ParseLevel(string(l.config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.logger.SetLevel(level)
	l.logger.SetReportCaller(l.config.Caller)
	l.setFormatter()
	l.logger.SetOutput(l.config.Console)

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openFile()
}

func shortCaller(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

// setFormatter configures the log formatter
func (l *Logger) setFormatter() {
	switch l.config.Format {
	case LogFormatJSON:
		l.logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: shortCaller,
		})
	case LogFormatText:
		l.logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    l.config.Timestamp,
			TimestampFormat:  time.RFC3339,
			ForceColors:      l.config.Colors,
			DisableColors:    !l.config.Colors,
			CallerPrettyfier: shortCaller,
		})
	default:
		l.logger.SetFormatter(&FuzzerFormatter{CustomFormatter: CustomFormatter{
			Timestamp: l.config.Timestamp,
			Caller:    l.config.Caller,
			Colors:    l.config.Colors,
		}})
	}
}

// openFile starts a new timestamped log file and tees output into it.
// Caller holds l.mu.
func (l *Logger) openFile() error {
	if l.config.OutputDir == "" {
		return nil
	}
	if err := os.MkdirAll(l.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	l.seq++
	name := fmt.Sprintf("%s%s_%03d.log", filePrefix, time.Now().Format("2006-01-02_15-04-05"), l.seq)
	path := filepath.Join(l.config.OutputDir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if l.fileHandle != nil {
		l.fileHandle.Close()
	}
	l.fileHandle, l.filePath = file, path
	l.logger.SetOutput(io.MultiWriter(l.config.Console, file))

	l.logger.WithFields(logrus.Fields{
		"start_time": l.startTime.Format(time.RFC3339),
		"log_file":   path,
		"level":      l.config.Level,
		"format":     l.config.Format,
	}).Info("Logging initialized")
	return nil
}

// Rotate starts a new file when the current one exceeds MaxSize.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fileHandle == nil {
		return nil
	}
	stat, err := l.fileHandle.Stat()
	if err != nil {
		return err
	}
	if stat.Size() < l.config.MaxSize {
		return nil
	}
	return l.openFile()
}

// FilePath returns the current log file, or "" when logging to the console only.
func (l *Logger) FilePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filePath
}

// cleanup removes the oldest log files beyond MaxFiles.
func (l *Logger) cleanup() error {
	if l.config.OutputDir == "" {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(l.config.OutputDir, filePrefix+"*.log"))
	if err != nil {
		return err
	}
	if len(files) <= l.config.MaxFiles {
		return nil
	}
	// Names embed the start time and a sequence number.
	sort.Strings(files)
	for _, f := range files[:len(files)-l.config.MaxFiles] {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	return nil
}

// LogStage logs the start or completion of a pipeline stage.
func (l *Logger) LogStage(stage string, elapsed time.Duration, fields logrus.Fields) {
	entry := l.logger.WithFields(fields).WithField("stage", stage)
	if elapsed > 0 {
		entry.WithField("duration", elapsed).Info("Stage completed")
		return
	}
	entry.Info("Stage started")
}

// LogDistance logs a distance observation for a test case.
func (l *Logger) LogDistance(testCaseID string, distance float64, count uint64, fields logrus.Fields) {
	l.logger.WithFields(fields).WithFields(logrus.Fields{
		"test_case_id": testCaseID,
		"distance":     distance,
		"hits":         count,
	}).Debug("Distance observed")
}

// LogExecution logs test case execution
func (l *Logger) LogExecution(testCaseID string, duration time.Duration, status string, fields logrus.Fields) {
	l.logger.WithFields(fields).WithFields(logrus.Fields{
		"test_case_id": testCaseID,
		"duration":     duration,
		"status":       status,
	}).Debug("Test case executed")
}

// LogCrash logs a crash detection
func (l *Logger) LogCrash(testCaseID string, crashType string, fields logrus.Fields) {
	l.logger.WithFields(fields).WithFields(logrus.Fields{
		"test_case_id": testCaseID,
		"crash_type":   crashType,
	}).Error("Crash detected")
}

// LogStats logs statistics and rotates the file when it has grown too large.
func (l *Logger) LogStats(executions, crashes, hangs int64, execPerSec float64, fields logrus.Fields) {
	l.logger.WithFields(fields).WithFields(logrus.Fields{
		"executions":         executions,
		"crashes":            crashes,
		"hangs":              hangs,
		"executions_per_sec": execPerSec,
		"uptime":             time.Since(l.startTime).Round(time.Second),
	}).Info("Statistics update")
	if err := l.Rotate(); err != nil {
		l.logger.WithError(err).Warn("Log rotation failed")
	}
}

// Close closes the log file and prunes old ones.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.fileHandle != nil {
		l.logger.SetOutput(l.config.Console)
		l.fileHandle.Close()
		l.fileHandle = nil
	}
	l.mu.Unlock()

	if err := l.cleanup(); err != nil {
		return fmt.Errorf("failed to cleanup log files: %w", err)
	}
	return nil
}

// GetLogger returns the underlying logrus logger
func (l *Logger) GetLogger() *logrus.Logger {
	return l.logger
}
