/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: interfaces.go
Description: Shared types and plug-in interfaces of the directed fuzzer. Lives in its own
package so the engine, executors, analyzers and mutators can depend on one contract
without importing each other.
*/

package interfaces

import (
	"fmt"
	"time"

	"github.com/kleascm/akaylee-directed/pkg/distrt"
)

// TestCase represents a single test case for fuzzing
type TestCase struct {
	ID         string                 `json:"id"`
	Data       []byte                 `json:"data"`
	ParentID   string                 `json:"parent_id"`
	Generation int                    `json:"generation"` // 0 = seed
	CreatedAt  time.Time              `json:"created_at"`
	Executions int64                  `json:"executions"`
	Priority   int                    `json:"priority"` // Higher runs first
	Energy     float64                `json:"energy"`   // Mutations granted on the next round
	Coverage   *Coverage              `json:"coverage"`
	Distance   *DistanceSample        `json:"distance,omitempty"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// DistanceSample is the distance feedback of a test case's last execution.
type DistanceSample struct {
	Record  distrt.Record `json:"record"`
	Average float64       `json:"average"` // Unscaled mean distance
}

// Coverage summarizes the blocks an execution covered.
type Coverage struct {
	BlockCount int       `json:"block_count"`
	NewBlocks  int       `json:"new_blocks"` // Blocks never seen before this execution
	Hash       uint64    `json:"hash"`
	Timestamp  time.Time `json:"timestamp"`
}

// ExecutionResult represents the result of executing a test case
type ExecutionResult struct {
	TestCaseID   string          `json:"test_case_id"`
	ExitCode     int             `json:"exit_code"`
	Signal       int             `json:"signal"`
	Duration     time.Duration   `json:"duration"`
	Output       []byte          `json:"output"`
	Error        []byte          `json:"error"`
	Status       ExecutionStatus `json:"status"`
	Coverage     *Coverage       `json:"coverage"`
	CrashInfo    *CrashInfo      `json:"crash_info"`
	HangInfo     *HangInfo       `json:"hang_info"`
	Distance     distrt.Record   `json:"distance"`
	ChannelOK    bool            `json:"channel_ok"`              // Distance channel was readable
	CoverProfile string          `json:"cover_profile,omitempty"` // Profile written by the run, if any
}

// NoDistance reports a readable channel that no probe wrote to: the target
// never attached to it or ran no instrumented block.
func (r *ExecutionResult) NoDistance() bool {
	return r.ChannelOK && r.Distance.TotalCount == 0
}

// DistanceSample returns the distance feedback of the run, or nil when no
// instrumented block executed or the channel was unavailable.
func (r *ExecutionResult) DistanceSample() *DistanceSample {
	if !r.ChannelOK {
		return nil
	}
	avg, ok := r.Distance.Distance()
	if !ok {
		return nil
	}
	return &DistanceSample{Record: r.Distance, Average: avg}
}

// ExecutionStatus represents the status of an execution
type ExecutionStatus int

const (
	StatusSuccess ExecutionStatus = iota
	StatusError
	StatusCrash
	StatusHang
	StatusTimeout
)

func (s ExecutionStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusCrash:
		return "crash"
	case StatusHang:
		return "hang"
	case StatusTimeout:
		return "timeout"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// CrashInfo represents information about a crash
type CrashInfo struct {
	Type        string   `json:"type"`
	Signal      int      `json:"signal"`
	StackTrace  []string `json:"stack_trace"`
	Hash        string   `json:"hash"`
	Interesting bool     `json:"interesting"` // Matched a crash pattern
}

// HangInfo represents information about a hang
type HangInfo struct {
	Duration   time.Duration `json:"duration"`
	LastOutput []byte        `json:"last_output"`
}

// DefaultTimeToExploit is the annealing horizon of campaigns without a duration.
const DefaultTimeToExploit = 45 * time.Minute

// FuzzerConfig represents the configuration for the fuzzer
type FuzzerConfig struct {
	TargetPath    string        `mapstructure:"target" json:"target_path"`
	TargetArgs    []string      `mapstructure:"args" json:"target_args"`
	TargetEnv     []string      `mapstructure:"env" json:"target_env"`
	InputMode     string        `mapstructure:"input_mode" json:"input_mode"` // "file" or "stdin"
	Workers       int           `mapstructure:"workers" json:"workers"`
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout"`
	CorpusDir     string        `mapstructure:"corpus" json:"corpus_dir"`
	OutputDir     string        `mapstructure:"output" json:"output_dir"`
	CrashDir      string        `mapstructure:"crash_dir" json:"crash_dir"`
	MaxCorpusSize int           `mapstructure:"max_corpus_size" json:"max_corpus_size"`
	MutationRate  float64       `mapstructure:"mutation_rate" json:"mutation_rate"`
	MaxMutations  int           `mapstructure:"max_mutations" json:"max_mutations"`
	CoverageType  string        `mapstructure:"coverage_type" json:"coverage_type"` // "none" or "profile"
	SchedulerType string        `mapstructure:"scheduler" json:"scheduler_type"`    // "directed" (default) or "priority"
	TimeToExploit time.Duration `mapstructure:"time_to_exploit" json:"time_to_exploit"`
	Duration      time.Duration `mapstructure:"duration" json:"duration"` // Campaign budget, 0 = until stopped
	MaxCrashes    int           `mapstructure:"max_crashes" json:"max_crashes"`
	LogLevel      string        `mapstructure:"log_level" json:"log_level"`
	LogFile       string        `mapstructure:"log_file" json:"log_file"`
	JSONLogs      bool          `mapstructure:"json_logs" json:"json_logs"`
}

// Validate checks the config and fills in defaults.
func (c *FuzzerConfig) Validate() error {
	if c.TargetPath == "" {
		return fmt.Errorf("target path is required")
	}
	if c.CorpusDir == "" {
		return fmt.Errorf("corpus directory is required")
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.MaxCorpusSize <= 0 {
		c.MaxCorpusSize = 10000
	}
	if c.MaxMutations <= 0 {
		c.MaxMutations = 16
	}
	if c.MutationRate <= 0 || c.MutationRate > 1 {
		c.MutationRate = 0.01
	}
	// The schedule reaches exploitation at the end of the budget unless told otherwise.
	if c.TimeToExploit <= 0 {
		if c.Duration > 0 {
			c.TimeToExploit = c.Duration
		} else {
			c.TimeToExploit = DefaultTimeToExploit
		}
	}
	switch c.InputMode {
	case "":
		c.InputMode = "file"
	case "file", "stdin":
	default:
		return fmt.Errorf("unknown input mode %q", c.InputMode)
	}
	switch c.CoverageType {
	case "":
		c.CoverageType = "none"
	case "none", "profile":
	default:
		return fmt.Errorf("unknown coverage type %q", c.CoverageType)
	}
	switch c.SchedulerType {
	case "":
		c.SchedulerType = "directed"
	case "directed", "priority":
	default:
		return fmt.Errorf("unknown scheduler %q", c.SchedulerType)
	}
	if c.CrashDir == "" && c.OutputDir != "" {
		c.CrashDir = c.OutputDir + "/crashes"
	}
	return nil
}

// Executor runs test cases against the target
type Executor interface {
	Initialize(config *FuzzerConfig) error
	Execute(testCase *TestCase) (*ExecutionResult, error)
	Cleanup() error
}

// Analyzer interprets execution results
type Analyzer interface {
	Analyze(result *ExecutionResult) error
	IsInteresting(testCase *TestCase) bool
	DetectCrash(result *ExecutionResult) (*CrashInfo, error)
	DetectHang(result *ExecutionResult) (*HangInfo, error)
}

// Mutator interface for mutating test cases
type Mutator interface {
	Mutate(testCase *TestCase) (*TestCase, error)
	Name() string
	Description() string
}
