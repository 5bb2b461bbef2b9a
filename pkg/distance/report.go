/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: report.go
Description: Aggregator diagnostics. Summarizes target resolution, instrumented block
coverage and the distance distribution of an emitted map.
*/

package distance

import (
	"github.com/VividCortex/gohistogram"
	"github.com/kleascm/akaylee-directed/pkg/targets"
	"github.com/sirupsen/logrus"
)

const histogramBins = 64

// Report is the diagnostic summary of one distance build.
type Report struct {
	ResolvedTargets    int     `json:"resolved_targets" yaml:"resolved_targets"`
	UnresolvedTargets  int     `json:"unresolved_targets" yaml:"unresolved_targets"`
	TargetBlocks       int     `json:"target_blocks" yaml:"target_blocks"`
	ReachableFunctions int     `json:"reachable_functions" yaml:"reachable_functions"`
	InstrumentedBlocks int     `json:"instrumented_blocks" yaml:"instrumented_blocks"`
	TotalBlocks        int     `json:"total_blocks" yaml:"total_blocks"`
	Mean               float64 `json:"mean" yaml:"mean"`
	P50                float64 `json:"p50" yaml:"p50"`
	P90                float64 `json:"p90" yaml:"p90"`
}

// NewReport builds the summary for a computed map.
func NewReport(res *targets.Result, fd FunctionDistances, m *Map, totalBlocks int) Report {
	r := Report{
		ResolvedTargets:    res.Resolved,
		UnresolvedTargets:  len(res.Unresolved),
		TargetBlocks:       len(res.Blocks),
		ReachableFunctions: len(fd),
		InstrumentedBlocks: m.Len(),
		TotalBlocks:        totalBlocks,
	}
	if m.Len() == 0 {
		return r
	}
	h := gohistogram.NewHistogram(histogramBins)
	m.Range(func(_ string, d float64) {
		h.Add(d)
	})
	r.Mean = h.Mean()
	r.P50 = h.Quantile(0.5)
	r.P90 = h.Quantile(0.9)
	return r
}

// Coverage returns the fraction of program blocks that carry a distance.
func (r Report) Coverage() float64 {
	if r.TotalBlocks == 0 {
		return 0
	}
	return float64(r.InstrumentedBlocks) / float64(r.TotalBlocks)
}

// Log writes the report as a single structured entry.
func (r Report) Log(logger *logrus.Logger) {
	logger.WithFields(logrus.Fields{
		"resolved_targets":    r.ResolvedTargets,
		"unresolved_targets":  r.UnresolvedTargets,
		"target_blocks":       r.TargetBlocks,
		"reachable_functions": r.ReachableFunctions,
		"instrumented_blocks": r.InstrumentedBlocks,
		"total_blocks":        r.TotalBlocks,
		"coverage":            r.Coverage(),
		"mean":                r.Mean,
		"p50":                 r.P50,
		"p90":                 r.P90,
	}).Info("Distance map summary")
}
