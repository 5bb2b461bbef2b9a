/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: reporter.go
Description: Reporter interface and implementations for fuzzer telemetry. LoggerReporter writes
events through the fuzzer log; PrometheusReporter exports execution, corpus and distance metrics on its
own registry.
*/

package core

import (
	"github.com/kleascm/akaylee-directed/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Reporter defines the interface for telemetry and reporting hooks.
type Reporter interface {
	// OnTestCaseExecuted is called after a test case is executed.
	OnTestCaseExecuted(result *ExecutionResult)
	// OnTestCaseAdded is called when a new test case is added to the corpus.
	OnTestCaseAdded(tc *TestCase)
	// OnStats is called on every statistics refresh.
	OnStats(stats FuzzerStats)
}

// LoggerReporter writes execution, corpus and statistics events through the
// fuzzer log.
type LoggerReporter struct {
	logger *logging.Logger
}

// NewLoggerReporter creates a new LoggerReporter.
func NewLoggerReporter(logger *logging.Logger) *LoggerReporter {
	return &LoggerReporter{logger: logger}
}

// OnTestCaseExecuted logs every run at debug level, its distance when one was
// reported, and crashes and hangs above that.
func (r *LoggerReporter) OnTestCaseExecuted(result *ExecutionResult) {
	r.logger.LogExecution(result.TestCaseID, result.Duration, result.Status.String(), logrus.Fields{
		"channel_ok": result.ChannelOK,
	})
	if s := result.DistanceSample(); s != nil {
		r.logger.LogDistance(result.TestCaseID, s.Average, s.Record.TotalCount, nil)
	}
	switch {
	case result.CrashInfo != nil:
		r.logger.LogCrash(result.TestCaseID, result.CrashInfo.Type, logrus.Fields{
			"hash":   result.CrashInfo.Hash,
			"signal": result.CrashInfo.Signal,
		})
	case result.HangInfo != nil:
		r.logger.GetLogger().WithFields(logrus.Fields{
			"test_case_id": result.TestCaseID,
			"duration":     result.HangInfo.Duration,
		}).Warn("Hang detected")
	}
}

// OnTestCaseAdded logs new corpus entries.
func (r *LoggerReporter) OnTestCaseAdded(tc *TestCase) {
	fields := logrus.Fields{"test_case_id": tc.ID, "generation": tc.Generation, "energy": tc.Energy}
	if tc.Distance != nil {
		fields["distance"] = tc.Distance.Average
	}
	r.logger.GetLogger().WithFields(fields).Info("Test case added to corpus")
}

// OnStats logs a statistics line.
func (r *LoggerReporter) OnStats(stats FuzzerStats) {
	r.logger.LogStats(stats.Executions, stats.Crashes, stats.Hangs, stats.ExecutionsPerSecond, logrus.Fields{
		"unique_crashes": stats.UniqueCrashes,
		"corpus":         stats.CorpusSize,
		"best_distance":  stats.BestDistance,
		"temperature":    stats.Temperature,
		"channel_fails":  stats.ChannelFailures,
		"no_distance":    stats.NoDistanceRuns,
	})
}

// PrometheusReporter exports fuzzing metrics.
type PrometheusReporter struct {
	registry        *prometheus.Registry
	executions      *prometheus.CounterVec
	corpusAdditions prometheus.Counter
	channelFailures prometheus.Counter
	noDistance      prometheus.Counter
	distance        prometheus.Histogram
	bestDistance    prometheus.Gauge
	temperature     prometheus.Gauge
	corpusSize      prometheus.Gauge
	execRate        prometheus.Gauge
}

// NewPrometheusReporter creates a reporter with its metrics registered on a
// fresh registry.
func NewPrometheusReporter() *PrometheusReporter {
	r := &PrometheusReporter{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "akaylee",
			Name:      "executions_total",
			Help:      "Executions by status.",
		}, []string{"status"}),
		corpusAdditions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "akaylee",
			Name:      "corpus_additions_total",
			Help:      "Test cases added to the corpus.",
		}),
		channelFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "akaylee",
			Name:      "distance_channel_failures_total",
			Help:      "Executions whose distance channel could not be read.",
		}),
		noDistance: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "akaylee",
			Name:      "executions_without_distance_total",
			Help:      "Executions that reached no probe or never attached to the distance channel.",
		}),
		distance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "akaylee",
			Name:      "execution_distance",
			Help:      "Average distance to targets per execution.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		bestDistance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "akaylee",
			Name:      "best_distance",
			Help:      "Smallest average distance seen.",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "akaylee",
			Name:      "schedule_temperature",
			Help:      "Annealing temperature of the power schedule.",
		}),
		corpusSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "akaylee",
			Name:      "corpus_size",
			Help:      "Entries in the corpus.",
		}),
		execRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "akaylee",
			Name:      "executions_per_second",
			Help:      "Current execution rate.",
		}),
	}
	r.registry.MustRegister(r.executions, r.corpusAdditions, r.channelFailures, r.noDistance, r.distance,
		r.bestDistance, r.temperature, r.corpusSize, r.execRate)
	return r
}

// Registry returns the registry the metrics live on.
func (r *PrometheusReporter) Registry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusReporter) OnTestCaseExecuted(result *ExecutionResult) {
	r.executions.WithLabelValues(result.Status.String()).Inc()
	if !result.ChannelOK {
		r.channelFailures.Inc()
	} else if result.NoDistance() {
		r.noDistance.Inc()
	}
	if s := result.DistanceSample(); s != nil {
		r.distance.Observe(s.Average)
	}
}

func (r *PrometheusReporter) OnTestCaseAdded(tc *TestCase) {
	r.corpusAdditions.Inc()
}

func (r *PrometheusReporter) OnStats(stats FuzzerStats) {
	if stats.BestDistance >= 0 {
		r.bestDistance.Set(stats.BestDistance)
	}
	r.temperature.Set(stats.Temperature)
	r.corpusSize.Set(float64(stats.CorpusSize))
	r.execRate.Set(stats.ExecutionsPerSecond)
}
