/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: engine_test.go
Description: Engine tests against an in-process executor whose distance falls as the input's
first byte falls, crashing at zero.
*/

package core_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kleascm/akaylee-directed/pkg/core"
	"github.com/kleascm/akaylee-directed/pkg/distrt"
	"github.com/kleascm/akaylee-directed/pkg/interfaces"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countdownExecutor reports distance = first byte and crashes at zero. Every
// third run has no readable channel.
type countdownExecutor struct {
	runs int64
}

func (x *countdownExecutor) Initialize(*interfaces.FuzzerConfig) error { return nil }
func (x *countdownExecutor) Cleanup() error                            { return nil }

func (x *countdownExecutor) Execute(tc *interfaces.TestCase) (*interfaces.ExecutionResult, error) {
	n := atomic.AddInt64(&x.runs, 1)
	res := &interfaces.ExecutionResult{TestCaseID: tc.ID, Status: interfaces.StatusSuccess}
	if len(tc.Data) == 0 {
		return res, nil
	}
	if n%3 != 0 {
		res.ChannelOK = true
		res.Distance = distrt.Record{TotalDistance: uint64(tc.Data[0]) * distrt.Scale, TotalCount: 1}
	}
	if tc.Data[0] == 0 {
		res.ChannelOK = true
		res.Distance = distrt.Record{TotalDistance: 0, TotalCount: 1}
		res.Status = interfaces.StatusCrash
		res.Signal = 11
	}
	return res, nil
}

type countdownAnalyzer struct{}

func (countdownAnalyzer) Analyze(*interfaces.ExecutionResult) error { return nil }

func (countdownAnalyzer) IsInteresting(tc *interfaces.TestCase) bool {
	return tc.Distance != nil
}

func (countdownAnalyzer) DetectCrash(r *interfaces.ExecutionResult) (*interfaces.CrashInfo, error) {
	if r.Status != interfaces.StatusCrash {
		return nil, nil
	}
	return &interfaces.CrashInfo{Type: "SIGSEGV", Signal: r.Signal, Hash: "segv-at-zero"}, nil
}

func (countdownAnalyzer) DetectHang(*interfaces.ExecutionResult) (*interfaces.HangInfo, error) {
	return nil, nil
}

type decrementMutator struct{}

func (decrementMutator) Mutate(tc *interfaces.TestCase) (*interfaces.TestCase, error) {
	data := append([]byte(nil), tc.Data...)
	if len(data) > 0 && data[0] > 0 {
		data[0]--
	}
	return &interfaces.TestCase{ID: uuid.New().String(), Data: data}, nil
}
func (decrementMutator) Name() string        { return "decrement" }
func (decrementMutator) Description() string { return "decrements the first byte" }

type recordingReporter struct {
	executed, added, stats int64
}

func (r *recordingReporter) OnTestCaseExecuted(*interfaces.ExecutionResult) { atomic.AddInt64(&r.executed, 1) }
func (r *recordingReporter) OnTestCaseAdded(*interfaces.TestCase)           { atomic.AddInt64(&r.added, 1) }
func (r *recordingReporter) OnStats(core.FuzzerStats)                       { atomic.AddInt64(&r.stats, 1) }

func newCampaign(t *testing.T) (*core.Engine, *interfaces.FuzzerConfig, *recordingReporter) {
	t.Helper()
	dir := t.TempDir()
	corpusDir := filepath.Join(dir, "corpus")
	require.NoError(t, os.MkdirAll(corpusDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(corpusDir, "seed"), []byte{6, 'x'}, 0644))

	cfg := &interfaces.FuzzerConfig{
		TargetPath:    "/bin/true",
		CorpusDir:     corpusDir,
		OutputDir:     filepath.Join(dir, "out"),
		Workers:       2,
		MaxMutations:  2,
		MaxCrashes:    1,
		Duration:      20 * time.Second,
		TimeToExploit: time.Second,
	}
	logger, _ := test.NewNullLogger()
	engine := core.NewEngine(logger)
	engine.SetExecutor(&countdownExecutor{})
	engine.SetAnalyzer(countdownAnalyzer{})
	engine.SetMutators([]interfaces.Mutator{decrementMutator{}})
	rep := &recordingReporter{}
	engine.AddReporter(rep)
	return engine, cfg, rep
}

func TestEngineReachesTarget(t *testing.T) {
	engine, cfg, rep := newCampaign(t)
	require.NoError(t, engine.Initialize(cfg))
	require.NoError(t, engine.Start())

	select {
	case <-engine.Done():
	case <-time.After(30 * time.Second):
		t.Fatal("campaign did not stop")
	}
	require.NoError(t, engine.Stop())

	stats := engine.GetStats()
	assert.Equal(t, int64(1), stats.UniqueCrashes)
	assert.Equal(t, 0.0, stats.BestDistance)
	assert.Positive(t, stats.DistanceSamples)
	assert.Positive(t, stats.ChannelFailures)
	assert.Positive(t, atomic.LoadInt64(&rep.executed))
	assert.Positive(t, atomic.LoadInt64(&rep.added))
	assert.Positive(t, atomic.LoadInt64(&rep.stats))

	crashes, err := filepath.Glob(filepath.Join(cfg.CrashDir, "crash_*"))
	require.NoError(t, err)
	assert.Len(t, crashes, 2, "input and its record")

	closest := engine.GetCorpus().Closest(1)
	require.Len(t, closest, 1)
	assert.Equal(t, 0.0, closest[0].Distance.Average)
	assert.Error(t, engine.Stop())
}

// detachedExecutor hands out a readable channel that the target never writes,
// as an uninstrumented binary would.
type detachedExecutor struct{}

func (detachedExecutor) Initialize(*interfaces.FuzzerConfig) error { return nil }
func (detachedExecutor) Cleanup() error                            { return nil }

func (detachedExecutor) Execute(tc *interfaces.TestCase) (*interfaces.ExecutionResult, error) {
	return &interfaces.ExecutionResult{TestCaseID: tc.ID, Status: interfaces.StatusSuccess, ChannelOK: true}, nil
}

func TestEngineCountsRunsWithoutDistance(t *testing.T) {
	_, cfg, _ := newCampaign(t)
	logger, hook := test.NewNullLogger()
	engine := core.NewEngine(logger)
	engine.SetExecutor(detachedExecutor{})
	engine.SetAnalyzer(countdownAnalyzer{})
	engine.SetMutators([]interfaces.Mutator{decrementMutator{}})
	cfg.Duration = 2 * time.Second

	require.NoError(t, engine.Initialize(cfg))
	require.NoError(t, engine.Start())
	<-engine.Done()
	require.NoError(t, engine.Stop())

	stats := engine.GetStats()
	assert.Zero(t, stats.DistanceSamples)
	assert.Zero(t, stats.ChannelFailures)
	assert.Equal(t, stats.Executions, stats.NoDistanceRuns)

	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Message == "No execution reported a distance, target may not be instrumented" {
			warnings++
		}
	}
	require.GreaterOrEqual(t, stats.NoDistanceRuns, int64(64))
	assert.Equal(t, 1, warnings)
}

func TestEngineRequiresPlugins(t *testing.T) {
	_, cfg, _ := newCampaign(t)
	logger, _ := test.NewNullLogger()
	engine := core.NewEngine(logger)
	assert.ErrorContains(t, engine.Initialize(cfg), "executor not set")
	assert.Error(t, engine.Start())
}

func TestEngineRejectsEmptyCorpus(t *testing.T) {
	engine, cfg, _ := newCampaign(t)
	cfg.CorpusDir = t.TempDir()
	assert.ErrorContains(t, engine.Initialize(cfg), "no seed inputs")
}
