/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: executor.go
Description: Process executor for the directed fuzzer. Every run is a fresh process under a
timeout. Each execution slot owns a distance channel that the child inherits on descriptor 3;
the channel is zeroed before the run and read back after it, including after a crash or a
timeout, so partial traces reach the scheduler.
*/

package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kleascm/akaylee-directed/pkg/distrt"
	"github.com/kleascm/akaylee-directed/pkg/interfaces"
	"github.com/sirupsen/logrus"
)

// Argument placeholders substituted per run.
const (
	InputPlaceholder   = "@@"
	ProfilePlaceholder = "@cov@"
	// EnvCoverProfile tells cooperative targets where to write their profile.
	EnvCoverProfile = "AKAYLEE_COVERPROFILE"
)

const maxCapturedOutput = 64 << 10

// slot is one concurrent execution context.
type slot struct {
	id          int
	channel     *distrt.Channel // nil when the channel could not be created
	inputPath   string
	profilePath string
}

// ProcessExecutor implements interfaces.Executor.
type ProcessExecutor struct {
	config  *interfaces.FuzzerConfig
	logger  *logrus.Logger
	workDir string
	slots   chan *slot
	all     []*slot

	mu       sync.Mutex
	children map[int]*os.Process
}

// NewProcessExecutor creates a new process executor instance
func NewProcessExecutor(logger *logrus.Logger) *ProcessExecutor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ProcessExecutor{logger: logger, children: make(map[int]*os.Process)}
}

// Initialize creates one slot per worker. A slot whose channel cannot be
// created still runs the target; its results carry no distance.
func (e *ProcessExecutor) Initialize(config *interfaces.FuzzerConfig) error {
	if config == nil {
		return fmt.Errorf("executor config is nil")
	}
	if _, err := exec.LookPath(config.TargetPath); err != nil {
		return fmt.Errorf("target not executable: %w", err)
	}
	e.config = config

	dir, err := os.MkdirTemp("", "akaylee-exec-")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	e.workDir = dir

	n := config.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	e.slots = make(chan *slot, n)
	for i := 0; i < n; i++ {
		s := &slot{
			id:          i,
			inputPath:   filepath.Join(dir, fmt.Sprintf("input.%d", i)),
			profilePath: filepath.Join(dir, fmt.Sprintf("cover.%d.out", i)),
		}
		ch, err := distrt.NewChannel()
		if err != nil {
			e.logger.WithField("slot", i).WithError(err).Warn("Distance channel unavailable, falling back to coverage-only energy")
		} else {
			s.channel = ch
		}
		e.all = append(e.all, s)
		e.slots <- s
	}
	return nil
}

// Execute runs the target once on the test case.
func (e *ProcessExecutor) Execute(testCase *interfaces.TestCase) (*interfaces.ExecutionResult, error) {
	if e.config == nil {
		return nil, fmt.Errorf("executor is not initialized")
	}
	s := <-e.slots
	defer func() { e.slots <- s }()

	if err := os.WriteFile(s.inputPath, testCase.Data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write input: %w", err)
	}
	profiling := e.config.CoverageType == "profile"
	if profiling {
		os.Remove(s.profilePath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.config.Timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, e.config.TargetPath, e.args(s)...)
	cmd.WaitDelay = time.Second

	var stdout, stderr limitedBuffer
	stdout.limit, stderr.limit = maxCapturedOutput, maxCapturedOutput
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if e.config.InputMode == "stdin" {
		cmd.Stdin = bytes.NewReader(testCase.Data)
	}

	cmd.Env = append(os.Environ(), e.config.TargetEnv...)
	if profiling {
		cmd.Env = append(cmd.Env, EnvCoverProfile+"="+s.profilePath)
	}
	if s.channel != nil {
		s.channel.Reset()
		cmd.ExtraFiles = []*os.File{s.channel.File()}
		cmd.Env = append(cmd.Env, s.channel.Env(distrt.ChildFD))
	}

	result := &interfaces.ExecutionResult{TestCaseID: testCase.ID, Status: interfaces.StatusSuccess}
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start target: %w", err)
	}
	e.track(cmd.Process)
	err := cmd.Wait()
	e.untrack(cmd.Process)
	result.Duration = time.Since(start)

	result.Output, result.Error = stdout.Bytes(), stderr.Bytes()
	if s.channel != nil {
		result.Distance = s.channel.Read()
		result.ChannelOK = true
	}
	if profiling {
		if _, statErr := os.Stat(s.profilePath); statErr == nil {
			result.CoverProfile = s.profilePath
		}
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Status = interfaces.StatusTimeout
		result.Signal = signalOf(cmd.ProcessState)
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		if sig := signalOf(exitErr.ProcessState); sig != 0 {
			result.Signal = sig
			result.Status = interfaces.StatusCrash
		}
	default:
		result.Status = interfaces.StatusError
		return result, fmt.Errorf("target wait failed: %w", err)
	}
	return result, nil
}

// args substitutes the placeholders. In file mode without "@@" the input
// path is appended.
func (e *ProcessExecutor) args(s *slot) []string {
	args := make([]string, 0, len(e.config.TargetArgs)+1)
	sawInput := false
	for _, a := range e.config.TargetArgs {
		if strings.Contains(a, InputPlaceholder) {
			sawInput = true
			a = strings.ReplaceAll(a, InputPlaceholder, s.inputPath)
		}
		args = append(args, strings.ReplaceAll(a, ProfilePlaceholder, s.profilePath))
	}
	if !sawInput && e.config.InputMode != "stdin" {
		args = append(args, s.inputPath)
	}
	return args
}

func signalOf(state *os.ProcessState) int {
	if state == nil {
		return 0
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return int(ws.Signal())
	}
	return 0
}

func (e *ProcessExecutor) track(p *os.Process) {
	e.mu.Lock()
	e.children[p.Pid] = p
	e.mu.Unlock()
}

func (e *ProcessExecutor) untrack(p *os.Process) {
	e.mu.Lock()
	delete(e.children, p.Pid)
	e.mu.Unlock()
}

// Cleanup kills any running child, closes the channels and removes the work
// directory.
func (e *ProcessExecutor) Cleanup() error {
	e.mu.Lock()
	for pid, p := range e.children {
		e.logger.WithField("pid", pid).Debug("Killing child process")
		p.Kill()
	}
	e.children = make(map[int]*os.Process)
	e.mu.Unlock()

	var errs []error
	for _, s := range e.all {
		if s.channel != nil {
			errs = append(errs, s.channel.Close())
			s.channel = nil
		}
	}
	if e.workDir != "" {
		errs = append(errs, os.RemoveAll(e.workDir))
	}
	return errors.Join(errs...)
}

// limitedBuffer keeps the first limit bytes written and discards the rest.
type limitedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}
