/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: analyzer.go
Description: Execution analyzer for the directed fuzzer. Derives coverage novelty from the run's
coverprofile when one is collected, or from a bucketed fingerprint of the distance record
otherwise, and classifies crashes and hangs with stable hashes for deduplication.
*/

package analysis

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kleascm/akaylee-directed/pkg/coverage"
	"github.com/kleascm/akaylee-directed/pkg/interfaces"
	"github.com/sirupsen/logrus"
)

// CrashMatcher defines the interface for matching interesting crashes.
type CrashMatcher interface {
	IsInterestingCrash(crash *interfaces.CrashInfo, result *interfaces.ExecutionResult) bool
}

// RegexCrashMatcher implements CrashMatcher using regex patterns.
type RegexCrashMatcher struct {
	patterns []*regexp.Regexp
}

// NewRegexCrashMatcher compiles the given patterns.
func NewRegexCrashMatcher(patterns []string) (*RegexCrashMatcher, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("invalid crash pattern %q: %w", pat, err)
		}
		compiled = append(compiled, re)
	}
	return &RegexCrashMatcher{patterns: compiled}, nil
}

// IsInterestingCrash returns true if any pattern matches the crash type or output.
func (m *RegexCrashMatcher) IsInterestingCrash(crash *interfaces.CrashInfo, result *interfaces.ExecutionResult) bool {
	if crash == nil || result == nil {
		return false
	}
	for _, re := range m.patterns {
		if re.MatchString(crash.Type) || re.Match(result.Output) || re.Match(result.Error) {
			return true
		}
	}
	return false
}

// maxStackFrames bounds the frames that feed the crash hash.
const maxStackFrames = 5

// DirectedAnalyzer implements interfaces.Analyzer.
type DirectedAnalyzer struct {
	collector    coverage.CoverageCollector
	crashMatcher CrashMatcher
	hangAfter    time.Duration
	logger       *logrus.Logger

	mu     sync.Mutex
	global map[string]struct{}
}

// NewDirectedAnalyzer creates an analyzer. A nil collector selects distance
// fingerprints as the coverage signal.
func NewDirectedAnalyzer(collector coverage.CoverageCollector, logger *logrus.Logger) *DirectedAnalyzer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DirectedAnalyzer{
		collector: collector,
		logger:    logger,
		global:    make(map[string]struct{}),
	}
}

// SetCrashMatcher sets the crash matcher for the analyzer.
func (a *DirectedAnalyzer) SetCrashMatcher(matcher CrashMatcher) {
	a.crashMatcher = matcher
}

// SetHangThreshold flags successful runs slower than d as hangs. Zero only
// reports timeouts.
func (a *DirectedAnalyzer) SetHangThreshold(d time.Duration) {
	a.hangAfter = d
}

// Analyze attaches coverage to the result and merges it into the global set.
func (a *DirectedAnalyzer) Analyze(result *interfaces.ExecutionResult) error {
	keys := a.coverageKeys(result)
	cov := &interfaces.Coverage{
		BlockCount: len(keys),
		Hash:       hashKeys(keys),
		Timestamp:  time.Now(),
	}

	a.mu.Lock()
	for _, k := range keys {
		if _, seen := a.global[k]; !seen {
			a.global[k] = struct{}{}
			cov.NewBlocks++
		}
	}
	a.mu.Unlock()

	result.Coverage = cov
	return nil
}

// coverageKeys prefers the run's coverprofile and falls back to the distance
// fingerprint when none was written (a crashed Go target never flushes one).
func (a *DirectedAnalyzer) coverageKeys(result *interfaces.ExecutionResult) []string {
	if a.collector != nil && result.CoverProfile != "" {
		info, err := a.collector.Collect(result.CoverProfile)
		if err == nil {
			return info.Blocks
		}
		a.logger.WithField("testcase", result.TestCaseID).WithError(err).Debug("No coverage profile, using distance fingerprint")
	}
	return distanceFingerprint(result)
}

// distanceFingerprint buckets the hit count the way AFL buckets edge counts
// and pairs it with the mean scaled distance, so reaching a new distance or
// a new order of magnitude of probe hits counts as new behavior.
func distanceFingerprint(result *interfaces.ExecutionResult) []string {
	keys := []string{"status:" + result.Status.String()}
	if !result.ChannelOK {
		return keys
	}
	rec := result.Distance
	if rec.TotalCount == 0 {
		return append(keys, "dist:none")
	}
	return append(keys,
		fmt.Sprintf("dist:%d", rec.TotalDistance/rec.TotalCount),
		fmt.Sprintf("hits:%d", hitBucket(rec.TotalCount)),
	)
}

func hitBucket(n uint64) int {
	switch {
	case n <= 3:
		return int(n)
	case n <= 7:
		return 4
	case n <= 15:
		return 8
	case n <= 31:
		return 16
	case n <= 127:
		return 32
	}
	return 128
}

func hashKeys(keys []string) uint64 {
	h := fnv.New64a()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// IsInteresting reports whether the last execution of testCase reached new
// coverage or crashed.
func (a *DirectedAnalyzer) IsInteresting(testCase *interfaces.TestCase) bool {
	if _, crashed := testCase.Metadata["found_crash"]; crashed {
		return true
	}
	return testCase.Coverage != nil && testCase.Coverage.NewBlocks > 0
}

// DetectCrash classifies signal deaths, Go panics and abnormal exits.
func (a *DirectedAnalyzer) DetectCrash(result *interfaces.ExecutionResult) (*interfaces.CrashInfo, error) {
	if result.Status == interfaces.StatusTimeout {
		return nil, nil
	}
	frames := extractStackTrace(result.Error)
	var crash *interfaces.CrashInfo
	switch {
	case result.Signal != 0:
		crash = &interfaces.CrashInfo{Type: signalName(result.Signal), Signal: result.Signal}
	case bytes.Contains(result.Error, []byte("panic: ")) || bytes.Contains(result.Error, []byte("fatal error: ")):
		crash = &interfaces.CrashInfo{Type: "GO_PANIC"}
	case result.ExitCode != 0 && result.ExitCode != 1:
		crash = &interfaces.CrashInfo{Type: "ABNORMAL_EXIT"}
	default:
		return nil, nil
	}
	crash.StackTrace = frames
	crash.Hash = crashHash(crash.Type, result, frames)
	if a.crashMatcher != nil {
		crash.Interesting = a.crashMatcher.IsInterestingCrash(crash, result)
	}
	return crash, nil
}

// DetectHang reports timeouts and, when a threshold is set, slow runs.
func (a *DirectedAnalyzer) DetectHang(result *interfaces.ExecutionResult) (*interfaces.HangInfo, error) {
	slow := a.hangAfter > 0 && result.Duration > a.hangAfter
	if result.Status != interfaces.StatusTimeout && !slow {
		return nil, nil
	}
	return &interfaces.HangInfo{Duration: result.Duration, LastOutput: tail(result.Output, 4096)}, nil
}

// CoverageSize returns the number of distinct coverage keys seen.
func (a *DirectedAnalyzer) CoverageSize() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.global)
}

// crashHash hashes the crash type with its top frames. Without frames the
// exit status and first stderr line stand in.
func crashHash(kind string, result *interfaces.ExecutionResult, frames []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00", kind)
	if len(frames) > 0 {
		for _, f := range frames {
			fmt.Fprintf(h, "%s\x00", f)
		}
	} else {
		fmt.Fprintf(h, "%d\x00%d\x00", result.Signal, result.ExitCode)
		if line, _, _ := bytes.Cut(result.Error, []byte("\n")); len(line) > 0 {
			h.Write(line)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// extractStackTrace returns the function names of the first goroutine in a
// Go traceback, without arguments.
func extractStackTrace(stderr []byte) []string {
	var frames []string
	inTrace := false
	scanner := bufio.NewScanner(bytes.NewReader(stderr))
	for scanner.Scan() && len(frames) < maxStackFrames {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "goroutine ") && strings.HasSuffix(line, ":"):
			if inTrace {
				return frames
			}
			inTrace = true
		case !inTrace || line == "" || strings.HasPrefix(line, "\t"):
		default:
			fn := line
			if i := strings.LastIndex(fn, "("); i > 0 {
				fn = fn[:i]
			}
			if strings.HasPrefix(fn, "panic") || strings.HasPrefix(fn, "runtime.") {
				continue
			}
			frames = append(frames, fn)
		}
	}
	return frames
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}

var signalNames = map[int]string{
	1:  "SIGHUP",
	2:  "SIGINT",
	3:  "SIGQUIT",
	4:  "SIGILL",
	5:  "SIGTRAP",
	6:  "SIGABRT",
	7:  "SIGBUS",
	8:  "SIGFPE",
	9:  "SIGKILL",
	10: "SIGUSR1",
	11: "SIGSEGV",
	12: "SIGUSR2",
	13: "SIGPIPE",
	14: "SIGALRM",
	15: "SIGTERM",
}

// signalName converts a signal number to its name.
func signalName(signal int) string {
	if name, ok := signalNames[signal]; ok {
		return name
	}
	return fmt.Sprintf("SIG%d", signal)
}
