/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: types.go
Description: Core types of the directed fuzz engine. Test case, result and plug-in types are
aliases of the shared contracts in pkg/interfaces so executors, analyzers and mutators plug in
without conversion. FuzzerStats carries the campaign counters, updated atomically.
*/

package core

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/kleascm/akaylee-directed/pkg/interfaces"
)

type (
	TestCase        = interfaces.TestCase
	Coverage        = interfaces.Coverage
	ExecutionResult = interfaces.ExecutionResult
	ExecutionStatus = interfaces.ExecutionStatus
	CrashInfo       = interfaces.CrashInfo
	HangInfo        = interfaces.HangInfo
	FuzzerConfig    = interfaces.FuzzerConfig
	Executor        = interfaces.Executor
	Analyzer        = interfaces.Analyzer
	Mutator         = interfaces.Mutator
)

const (
	StatusSuccess = interfaces.StatusSuccess
	StatusError   = interfaces.StatusError
	StatusCrash   = interfaces.StatusCrash
	StatusHang    = interfaces.StatusHang
	StatusTimeout = interfaces.StatusTimeout
)

// FuzzerStats tracks overall fuzzer statistics
// Uses atomic operations for thread-safe updates
type FuzzerStats struct {
	Executions          int64     `json:"executions"`
	Crashes             int64     `json:"crashes"`
	UniqueCrashes       int64     `json:"unique_crashes"`
	Hangs               int64     `json:"hangs"`
	Timeouts            int64     `json:"timeouts"`
	CorpusSize          int64     `json:"corpus_size"`
	CoveragePoints      int64     `json:"coverage_points"`      // Distinct coverage fingerprints seen
	DistanceSamples     int64     `json:"distance_samples"`     // Executions that reported a distance
	ChannelFailures     int64     `json:"channel_failures"`     // Executions whose distance channel was unreadable
	NoDistanceRuns      int64     `json:"no_distance_runs"`     // Executions that left the channel untouched
	BestDistance        float64   `json:"best_distance"`        // Smallest average distance seen, -1 before any sample
	Temperature         float64   `json:"temperature"`          // Annealing temperature at the last stats update
	StartTime           time.Time `json:"start_time"`
	LastCrashTime       time.Time `json:"last_crash_time"`
	ExecutionsPerSecond float64   `json:"executions_per_second"`

	bestBits uint64 // float64 bits of BestDistance, updated lock-free
}

func newFuzzerStats() *FuzzerStats {
	s := &FuzzerStats{StartTime: time.Now()}
	atomic.StoreUint64(&s.bestBits, math.Float64bits(math.Inf(1)))
	return s
}

// IncrementExecutions atomically increments the execution counter
func (s *FuzzerStats) IncrementExecutions() {
	atomic.AddInt64(&s.Executions, 1)
}

// IncrementCrashes atomically increments the crash counter
func (s *FuzzerStats) IncrementCrashes() {
	atomic.AddInt64(&s.Crashes, 1)
}

// IncrementHangs atomically increments the hang counter
func (s *FuzzerStats) IncrementHangs() {
	atomic.AddInt64(&s.Hangs, 1)
}

// IncrementTimeouts atomically increments the timeout counter
func (s *FuzzerStats) IncrementTimeouts() {
	atomic.AddInt64(&s.Timeouts, 1)
}

// IncrementChannelFailures atomically increments the channel failure counter
func (s *FuzzerStats) IncrementChannelFailures() {
	atomic.AddInt64(&s.ChannelFailures, 1)
}

// IncrementNoDistanceRuns atomically increments the untouched channel counter
func (s *FuzzerStats) IncrementNoDistanceRuns() {
	atomic.AddInt64(&s.NoDistanceRuns, 1)
}

// ObserveDistance records a distance sample and returns true if it is the
// closest seen so far.
func (s *FuzzerStats) ObserveDistance(d float64) bool {
	atomic.AddInt64(&s.DistanceSamples, 1)
	for {
		old := atomic.LoadUint64(&s.bestBits)
		if d >= math.Float64frombits(old) {
			return false
		}
		if atomic.CompareAndSwapUint64(&s.bestBits, old, math.Float64bits(d)) {
			return true
		}
	}
}

// Snapshot returns a consistent copy of the counters.
func (s *FuzzerStats) Snapshot() FuzzerStats {
	out := FuzzerStats{
		Executions:          atomic.LoadInt64(&s.Executions),
		Crashes:             atomic.LoadInt64(&s.Crashes),
		UniqueCrashes:       atomic.LoadInt64(&s.UniqueCrashes),
		Hangs:               atomic.LoadInt64(&s.Hangs),
		Timeouts:            atomic.LoadInt64(&s.Timeouts),
		CorpusSize:          atomic.LoadInt64(&s.CorpusSize),
		CoveragePoints:      atomic.LoadInt64(&s.CoveragePoints),
		DistanceSamples:     atomic.LoadInt64(&s.DistanceSamples),
		ChannelFailures:     atomic.LoadInt64(&s.ChannelFailures),
		NoDistanceRuns:      atomic.LoadInt64(&s.NoDistanceRuns),
		Temperature:         s.Temperature,
		StartTime:           s.StartTime,
		LastCrashTime:       s.LastCrashTime,
		ExecutionsPerSecond: s.ExecutionsPerSecond,
	}
	best := math.Float64frombits(atomic.LoadUint64(&s.bestBits))
	if math.IsInf(best, 1) {
		best = -1
	}
	out.BestDistance = best
	return out
}

// FuzzerEngine is the main interface for the fuzzing engine
type FuzzerEngine interface {
	Initialize(config *FuzzerConfig) error
	Start() error
	Stop() error
	GetStats() *FuzzerStats
	AddTestCase(testCase *TestCase) error
	GetTestCases(count int) ([]*TestCase, error)
	ReportCrash(result *ExecutionResult) error
	ReportHang(result *ExecutionResult) error
}
