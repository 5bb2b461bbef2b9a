/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: engine.go
Description: Directed fuzz engine. Runs a worker pool over the scheduler queue, folds every
execution's distance record into the power schedule, keeps interesting inputs in the corpus
and grants each corpus entry a mutation budget proportional to its energy.
*/

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Engine tuning.
const (
	sourcesPerRound     = 10
	maxEnergyMultiplier = 32
	rebalanceEvery      = 10 // scheduler ticks
	// Executions without any distance sample before warning that the target
	// does not look instrumented.
	noDistanceWarnAfter = 64
)

// Engine implements the FuzzerEngine interface
type Engine struct {
	config *FuzzerConfig
	stats  *FuzzerStats
	logger *logrus.Logger

	executor Executor
	analyzer Analyzer
	mutators []Mutator

	corpus    *Corpus
	scheduler Scheduler
	workers   []*Worker
	reporters []Reporter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running bool
	mu      sync.RWMutex
	genMu   sync.Mutex

	statsMu         sync.Mutex
	lastStatsUpdate time.Time
	lastExecutions  int64

	crashMu      sync.Mutex
	crashHashes  map[string]struct{}
	coverageMu   sync.Mutex
	seenCoverage map[uint64]struct{}

	noDistanceWarn sync.Once
}

// NewEngine creates a new fuzzer engine. A nil logger is built from the
// config on Initialize.
func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{
		stats:        newFuzzerStats(),
		logger:       logger,
		crashHashes:  make(map[string]struct{}),
		seenCoverage: make(map[uint64]struct{}),
	}
}

// SetExecutor sets the executor for the engine
func (e *Engine) SetExecutor(executor Executor) {
	e.executor = executor
}

// SetAnalyzer sets the analyzer for the engine
func (e *Engine) SetAnalyzer(analyzer Analyzer) {
	e.analyzer = analyzer
}

// SetMutators sets the mutators for the engine
func (e *Engine) SetMutators(mutators []Mutator) {
	e.mutators = append([]Mutator(nil), mutators...)
}

// SetScheduler overrides the scheduler chosen from the config.
func (e *Engine) SetScheduler(s Scheduler) {
	e.scheduler = s
}

// AddReporter registers a Reporter for telemetry and live reporting.
func (e *Engine) AddReporter(reporter Reporter) {
	e.reporters = append(e.reporters, reporter)
}

// Initialize validates the config, prepares the executor and queues the seeds.
func (e *Engine) Initialize(config *FuzzerConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid fuzzer config: %w", err)
	}
	e.config = config
	if e.logger == nil {
		e.logger = e.setupLogging()
	}

	if e.scheduler == nil {
		switch config.SchedulerType {
		case "priority":
			e.scheduler = NewPriorityScheduler()
		default:
			e.scheduler = NewDirectedScheduler(config.TimeToExploit)
		}
	}
	e.corpus = NewCorpus(config.MaxCorpusSize)

	if e.executor == nil {
		return fmt.Errorf("executor not set - use SetExecutor() before Initialize()")
	}
	if e.analyzer == nil {
		return fmt.Errorf("analyzer not set - use SetAnalyzer() before Initialize()")
	}
	if len(e.mutators) == 0 {
		return fmt.Errorf("mutators not set - use SetMutators() before Initialize()")
	}
	if err := e.executor.Initialize(config); err != nil {
		return fmt.Errorf("failed to initialize executor: %w", err)
	}
	if err := e.loadSeeds(); err != nil {
		return fmt.Errorf("failed to initialize corpus: %w", err)
	}
	e.initializeWorkers()
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.logger.WithFields(logrus.Fields{
		"scheduler":       config.SchedulerType,
		"time_to_exploit": config.TimeToExploit.String(),
		"workers":         len(e.workers),
	}).Info("Fuzzer engine initialized")
	return nil
}

func (e *Engine) setupLogging() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(e.config.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if e.config.LogFile != "" {
		if file, err := os.OpenFile(e.config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			logger.SetOutput(file)
		}
	}
	if e.config.JSONLogs {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// loadSeeds queues every regular file of the corpus directory as a seed.
// Seeds enter the corpus after their first execution.
func (e *Engine) loadSeeds() error {
	if err := os.MkdirAll(e.config.CorpusDir, 0755); err != nil {
		return fmt.Errorf("failed to create corpus directory: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(e.config.CorpusDir, "*"))
	if err != nil {
		return fmt.Errorf("failed to glob corpus files: %w", err)
	}
	sort.Strings(files)

	seeds := 0
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil || info.IsDir() {
			continue
		}
		data, err := os.ReadFile(file)
		if err != nil {
			e.logger.WithField("file", file).WithError(err).Warn("Failed to read seed file")
			continue
		}
		e.pushSeed(data, map[string]interface{}{"seed_file": filepath.Base(file)})
		seeds++
	}
	if seeds == 0 {
		return fmt.Errorf("no seed inputs in %s", e.config.CorpusDir)
	}
	e.logger.WithField("seeds", seeds).Info("Loaded seed corpus")
	return nil
}

func (e *Engine) pushSeed(data []byte, metadata map[string]interface{}) *TestCase {
	tc := &TestCase{
		ID:        uuid.New().String(),
		Data:      data,
		CreatedAt: time.Now(),
		Energy:    1,
		Metadata:  metadata,
	}
	if tc.Metadata == nil {
		tc.Metadata = make(map[string]interface{})
	}
	e.scheduler.Push(tc)
	return tc
}

func (e *Engine) initializeWorkers() {
	numWorkers := e.config.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e.workers = make([]*Worker, numWorkers)
	for i := range e.workers {
		e.workers[i] = NewWorker(i, e.executor, e.analyzer, e.logger, filepath.Base(e.config.TargetPath))
	}
}

// Start launches the workers, the scheduler loop and the stats loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("fuzzer is already running")
	}
	if e.ctx == nil {
		e.mu.Unlock()
		return fmt.Errorf("fuzzer is not initialized")
	}
	e.running = true
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.StartTime = time.Now()
	e.lastStatsUpdate = e.stats.StartTime
	e.statsMu.Unlock()

	if e.config.Duration > 0 {
		var cancel context.CancelFunc
		e.ctx, cancel = context.WithTimeout(e.ctx, e.config.Duration)
		parent := e.cancel
		e.cancel = func() { cancel(); parent() }
	}

	e.wg.Add(2 + len(e.workers))
	go e.updateStats()
	go e.runScheduler()
	for _, worker := range e.workers {
		go func(w *Worker) {
			defer e.wg.Done()
			e.runWorker(w)
		}(worker)
	}

	e.logger.Info("Fuzzer engine started")
	return nil
}

// Done is closed when the campaign ends on its own (duration or crash limit)
// or after Stop.
func (e *Engine) Done() <-chan struct{} {
	return e.ctx.Done()
}

// Stop signals every goroutine, waits for them and cleans up the executor.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return fmt.Errorf("fuzzer is not running")
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.publishStats()

	if err := e.executor.Cleanup(); err != nil {
		e.logger.WithError(err).Warn("Executor cleanup failed")
	}
	e.logger.Info("Fuzzer engine stopped")
	return nil
}

func (e *Engine) runWorker(worker *Worker) {
	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		testCase := e.scheduler.Next()
		if testCase == nil {
			e.generateTestCases()
			time.Sleep(10 * time.Millisecond)
			continue
		}

		result, err := worker.Execute(testCase)
		if err != nil {
			continue
		}
		e.stats.IncrementExecutions()
		e.processResult(testCase, result)
	}
}

func (e *Engine) runScheduler() {
	defer e.wg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			ticks++
			if ticks%rebalanceEvery == 0 {
				e.updateQueuePriorities()
			}
			if e.scheduler.Size() < e.config.MaxCorpusSize/2 {
				e.generateTestCases()
			}
			e.cleanupCorpus()
		}
	}
}

// generateTestCases mutates a sample of the corpus. Each source gets
// MaxMutations scaled by its energy.
func (e *Engine) generateTestCases() {
	if !e.genMu.TryLock() {
		return
	}
	defer e.genMu.Unlock()

	for _, source := range e.corpus.GetRandom(sourcesPerRound) {
		energy := e.scheduler.Energy(source)
		source.Energy = energy
		n := MutationBudget(e.config.MaxMutations, energy)
		for i := 0; i < n; i++ {
			mutator := e.mutators[(int(source.Executions)+i)%len(e.mutators)]
			mutated, err := mutator.Mutate(source)
			if err != nil || mutated == nil {
				e.logger.WithField("mutator", mutator.Name()).WithError(err).Debug("Mutation failed")
				continue
			}
			mutated.ParentID = source.ID
			mutated.Generation = source.Generation + 1
			mutated.CreatedAt = time.Now()
			mutated.Distance = nil
			mutated.Coverage = nil
			if mutated.Metadata == nil {
				mutated.Metadata = make(map[string]interface{})
			}
			e.scheduler.Push(mutated)
		}
	}
}

// MutationBudget scales the per-source mutation count by energy, keeping at
// least one mutation and at most maxEnergyMultiplier times the base.
func MutationBudget(base int, energy float64) int {
	if base <= 0 {
		base = 1
	}
	n := int(math.Round(float64(base) * energy))
	if n < 1 {
		return 1
	}
	if limit := base * maxEnergyMultiplier; n > limit {
		return limit
	}
	return n
}

// processResult folds an execution into the schedule and the corpus. A
// missing distance record falls back to coverage-only energy.
func (e *Engine) processResult(tc *TestCase, result *ExecutionResult) {
	tc.Executions++
	tc.Coverage = result.Coverage

	if sample := result.DistanceSample(); sample != nil {
		tc.Distance = sample
		if e.stats.ObserveDistance(sample.Average) {
			e.logger.WithFields(logrus.Fields{
				"testcase": tc.ID,
				"distance": sample.Average,
				"hits":     sample.Record.TotalCount,
			}).Info("New closest input")
		}
	} else if !result.ChannelOK {
		e.stats.IncrementChannelFailures()
	} else if result.NoDistance() {
		e.stats.IncrementNoDistanceRuns()
		if atomic.LoadInt64(&e.stats.DistanceSamples) == 0 &&
			atomic.LoadInt64(&e.stats.NoDistanceRuns) >= noDistanceWarnAfter {
			e.noDistanceWarn.Do(func() {
				e.logger.WithFields(logrus.Fields{
					"runs":   noDistanceWarnAfter,
					"target": e.config.TargetPath,
				}).Warn("No execution reported a distance, target may not be instrumented")
			})
		}
	}

	newCoverage := false
	if result.Coverage != nil {
		e.coverageMu.Lock()
		if _, seen := e.seenCoverage[result.Coverage.Hash]; !seen {
			e.seenCoverage[result.Coverage.Hash] = struct{}{}
			atomic.AddInt64(&e.stats.CoveragePoints, 1)
			newCoverage = true
		}
		e.coverageMu.Unlock()
	}

	switch result.Status {
	case StatusCrash:
		tc.Metadata["found_crash"] = true
		e.handleCrash(tc, result)
	case StatusTimeout:
		e.stats.IncrementTimeouts()
		e.handleHang(tc, result)
	case StatusHang:
		e.handleHang(tc, result)
	}

	if tc.Generation == 0 || newCoverage || e.analyzer.IsInteresting(tc) {
		e.addToCorpus(tc)
	}

	for _, r := range e.reporters {
		r.OnTestCaseExecuted(result)
	}
}

func (e *Engine) addToCorpus(tc *TestCase) {
	e.scheduler.Observe(tc)
	tc.Energy = e.scheduler.Energy(tc)
	tc.Priority = energyPriority(tc.Energy)
	for _, id := range e.corpus.Add(tc) {
		e.scheduler.Forget(id)
	}
	atomic.StoreInt64(&e.stats.CorpusSize, int64(e.corpus.Size()))

	if e.config.OutputDir != "" {
		dir := filepath.Join(e.config.OutputDir, "queue")
		if err := os.MkdirAll(dir, 0755); err == nil {
			if err := os.WriteFile(filepath.Join(dir, tc.ID), tc.Data, 0644); err != nil {
				e.logger.WithError(err).Warn("Failed to save corpus entry")
			}
		}
	}
	for _, r := range e.reporters {
		r.OnTestCaseAdded(tc)
	}
}

// handleCrash counts the crash, saves unique crashes and stops the campaign
// once MaxCrashes unique crashes were found.
func (e *Engine) handleCrash(tc *TestCase, result *ExecutionResult) {
	e.stats.IncrementCrashes()
	e.statsMu.Lock()
	e.stats.LastCrashTime = time.Now()
	e.statsMu.Unlock()

	hash := tc.ID
	if result.CrashInfo != nil && result.CrashInfo.Hash != "" {
		hash = result.CrashInfo.Hash
	}
	e.crashMu.Lock()
	_, dup := e.crashHashes[hash]
	e.crashHashes[hash] = struct{}{}
	unique := int64(len(e.crashHashes))
	e.crashMu.Unlock()
	if dup {
		return
	}
	atomic.StoreInt64(&e.stats.UniqueCrashes, unique)

	fields := logrus.Fields{"testcase": tc.ID, "hash": hash}
	if result.CrashInfo != nil {
		fields["type"] = result.CrashInfo.Type
	}
	if tc.Distance != nil {
		fields["distance"] = tc.Distance.Average
	}
	e.logger.WithFields(fields).Warn("Unique crash found")

	if e.config.CrashDir != "" {
		if err := e.saveCrashFile(tc, result, hash); err != nil {
			e.logger.WithError(err).Error("Failed to save crash file")
		}
	}
	if e.config.MaxCrashes > 0 && unique >= int64(e.config.MaxCrashes) {
		e.logger.WithField("unique_crashes", unique).Info("Crash limit reached")
		e.cancel()
	}
}

func (e *Engine) handleHang(tc *TestCase, result *ExecutionResult) {
	e.stats.IncrementHangs()
	fields := logrus.Fields{"testcase": tc.ID}
	if result.HangInfo != nil {
		fields["duration"] = result.HangInfo.Duration.String()
	}
	e.logger.WithFields(fields).Warn("Hang detected")
}

// crashRecord is written next to every saved crash input.
type crashRecord struct {
	TestCase string           `json:"test_case"`
	Parent   string           `json:"parent"`
	Result   *ExecutionResult `json:"result"`
	Distance float64          `json:"distance"`
	Found    time.Time        `json:"found"`
}

func (e *Engine) saveCrashFile(tc *TestCase, result *ExecutionResult, hash string) error {
	if err := os.MkdirAll(e.config.CrashDir, 0755); err != nil {
		return fmt.Errorf("failed to create crash directory: %w", err)
	}
	base := filepath.Join(e.config.CrashDir, fmt.Sprintf("crash_%s_%.16s", time.Now().Format("20060102_150405"), hash))
	if err := os.WriteFile(base, tc.Data, 0644); err != nil {
		return err
	}
	rec := crashRecord{TestCase: tc.ID, Parent: tc.ParentID, Result: result, Distance: -1, Found: time.Now()}
	if tc.Distance != nil {
		rec.Distance = tc.Distance.Average
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(base+".json", data, 0644)
}

// updateQueuePriorities re-ranks pending work as the schedule cools.
func (e *Engine) updateQueuePriorities() {
	if n := e.scheduler.Rebalance(); n > 0 {
		e.logger.WithFields(logrus.Fields{
			"changed":     n,
			"temperature": e.scheduler.Temperature(),
		}).Debug("Rebalanced queue")
	}
}

func (e *Engine) cleanupCorpus() {
	if e.corpus.Size() <= e.config.MaxCorpusSize {
		return
	}
	removed := e.corpus.Cleanup(e.config.MaxCorpusSize)
	for _, id := range removed {
		e.scheduler.Forget(id)
	}
	atomic.StoreInt64(&e.stats.CorpusSize, int64(e.corpus.Size()))
	e.logger.WithField("removed", len(removed)).Debug("Cleaned up corpus")
}

func (e *Engine) updateStats() {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.publishStats()
		}
	}
}

// publishStats refreshes the rate and temperature and notifies reporters.
func (e *Engine) publishStats() {
	e.statsMu.Lock()
	now := time.Now()
	executions := atomic.LoadInt64(&e.stats.Executions)
	if elapsed := now.Sub(e.lastStatsUpdate).Seconds(); elapsed > 0 {
		e.stats.ExecutionsPerSecond = float64(executions-e.lastExecutions) / elapsed
	}
	e.lastStatsUpdate = now
	e.lastExecutions = executions
	e.stats.Temperature = e.scheduler.Temperature()
	snap := e.stats.Snapshot()
	e.statsMu.Unlock()

	for _, r := range e.reporters {
		r.OnStats(snap)
	}
}

// GetStats returns a copy of the current statistics.
func (e *Engine) GetStats() *FuzzerStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	snap := e.stats.Snapshot()
	return &snap
}

// AddTestCase queues an extra seed.
func (e *Engine) AddTestCase(testCase *TestCase) error {
	if e.scheduler == nil {
		return fmt.Errorf("fuzzer is not initialized")
	}
	if testCase.ID == "" {
		testCase.ID = uuid.New().String()
	}
	if testCase.Metadata == nil {
		testCase.Metadata = make(map[string]interface{})
	}
	testCase.Generation = 0
	e.scheduler.Push(testCase)
	return nil
}

// GetTestCases returns test cases from the corpus
func (e *Engine) GetTestCases(count int) ([]*TestCase, error) {
	return e.corpus.GetRandom(count), nil
}

// ReportCrash reports a crash found outside the worker loop.
func (e *Engine) ReportCrash(result *ExecutionResult) error {
	tc := e.corpus.Get(result.TestCaseID)
	if tc == nil {
		return fmt.Errorf("unknown test case %s", result.TestCaseID)
	}
	e.handleCrash(tc, result)
	return nil
}

// ReportHang reports a hang found outside the worker loop.
func (e *Engine) ReportHang(result *ExecutionResult) error {
	tc := e.corpus.Get(result.TestCaseID)
	if tc == nil {
		return fmt.Errorf("unknown test case %s", result.TestCaseID)
	}
	e.handleHang(tc, result)
	return nil
}

// GetCorpus returns the corpus managed by the engine.
func (e *Engine) GetCorpus() *Corpus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.corpus
}

// Scheduler returns the active scheduler.
func (e *Engine) Scheduler() Scheduler {
	return e.scheduler
}
