/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: worker.go
Description: Worker that executes test cases for the engine. Runs the executor, classifies
crashes and hangs through the analyzer and keeps per-worker counters.
*/

package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Worker represents a single worker in the fuzzing process
type Worker struct {
	ID       int
	Target   string
	executor Executor
	analyzer Analyzer
	logger   *logrus.Logger

	mu         sync.RWMutex
	executions int64
	crashes    int64
	hangs      int64
	distanced  int64 // executions that reported a distance
	startTime  time.Time
}

// NewWorker creates a new worker instance
func NewWorker(id int, executor Executor, analyzer Analyzer, logger *logrus.Logger, target string) *Worker {
	return &Worker{
		ID:        id,
		Target:    target,
		executor:  executor,
		analyzer:  analyzer,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Execute runs a test case and returns the analyzed result. Partial distance
// traces of crashed or timed out runs are kept on the result.
func (w *Worker) Execute(testCase *TestCase) (*ExecutionResult, error) {
	fields := logrus.Fields{"worker": w.ID, "target": w.Target, "testcase": testCase.ID}

	start := time.Now()
	result, err := w.executor.Execute(testCase)
	if err != nil {
		w.logger.WithFields(fields).WithError(err).Error("Execution failed")
		return nil, fmt.Errorf("execution failed: %w", err)
	}
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	result.TestCaseID = testCase.ID

	w.mu.Lock()
	w.executions++
	if result.DistanceSample() != nil {
		w.distanced++
	}
	w.mu.Unlock()

	if err := w.analyzer.Analyze(result); err != nil {
		w.logger.WithFields(fields).WithError(err).Warn("Failed to analyze result")
	}

	if crashInfo, err := w.analyzer.DetectCrash(result); err == nil && crashInfo != nil {
		result.Status = StatusCrash
		result.CrashInfo = crashInfo
		w.mu.Lock()
		w.crashes++
		w.mu.Unlock()
		w.logger.WithFields(fields).WithField("type", crashInfo.Type).Warn("Crash detected")
	}

	if hangInfo, err := w.analyzer.DetectHang(result); err == nil && hangInfo != nil {
		if result.Status != StatusTimeout {
			result.Status = StatusHang
		}
		result.HangInfo = hangInfo
		w.mu.Lock()
		w.hangs++
		w.mu.Unlock()
		w.logger.WithFields(fields).WithField("duration", hangInfo.Duration.String()).Warn("Hang detected")
	}

	w.logger.WithFields(fields).WithField("status", result.Status.String()).Debug("Test case executed")
	return result, nil
}

// GetStats returns worker performance statistics
func (w *Worker) GetStats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := map[string]interface{}{
		"id":                 w.ID,
		"executions":         w.executions,
		"crashes":            w.crashes,
		"hangs":              w.hangs,
		"distance_reporting": w.distanced,
		"uptime":             time.Since(w.startTime),
	}
	if uptime := time.Since(w.startTime).Seconds(); uptime > 0 {
		stats["executions_per_second"] = float64(w.executions) / uptime
	}
	return stats
}
