/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: profiler.go
Description: Self-profiling for long pipeline builds and fuzzing campaigns. Records a CPU profile
for the lifetime of the profiler and writes heap, goroutine, block and mutex profiles plus a
runtime summary when it stops.
*/

package monitoring

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ProfilerType represents the type of profiling
type ProfilerType string

const (
	ProfilerTypeCPU       ProfilerType = "cpu"
	ProfilerTypeMemory    ProfilerType = "heap"
	ProfilerTypeGoroutine ProfilerType = "goroutine"
	ProfilerTypeBlock     ProfilerType = "block"
	ProfilerTypeMutex     ProfilerType = "mutex"
)

// ProfilerConfig represents profiling configuration
type ProfilerConfig struct {
	OutputDir     string
	CPUProfile    bool
	MemoryProfile bool
	// Contention profiles sample every blocking event and cost throughput.
	BlockProfile bool
	MutexProfile bool
}

// ProfileResult describes one written profile.
type ProfileResult struct {
	Type       ProfilerType  `json:"type"`
	OutputFile string        `json:"output_file"`
	Duration   time.Duration `json:"duration"`
}

// PerformanceSummary is the runtime state when profiling stopped.
type PerformanceSummary struct {
	Duration   time.Duration   `json:"duration"`
	Goroutines int             `json:"goroutines"`
	HeapAlloc  uint64          `json:"heap_alloc"`
	HeapSys    uint64          `json:"heap_sys"`
	GCs        uint32          `json:"gcs"`
	GCPause    time.Duration   `json:"gc_pause"`
	Results    []ProfileResult `json:"results"`
}

// Profiler provides process profiling
type Profiler struct {
	config *ProfilerConfig
	logger *logrus.Logger

	mu        sync.Mutex
	running   bool
	startTime time.Time
	cpuFile   *os.File
	cpuPath   string
	stamp     string
}

// NewProfiler creates a new profiler.
func NewProfiler(config *ProfilerConfig, logger *logrus.Logger) *Profiler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Profiler{config: config, logger: logger}
}

// Start begins profiling
func (p *Profiler) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("profiler already running")
	}
	if err := os.MkdirAll(p.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	p.startTime = time.Now()
	p.stamp = p.startTime.Format("2006-01-02_15-04-05")

	if p.config.CPUProfile {
		if err := p.startCPUProfile(); err != nil {
			return err
		}
	}
	if p.config.BlockProfile {
		runtime.SetBlockProfileRate(1)
	}
	if p.config.MutexProfile {
		runtime.SetMutexProfileFraction(1)
	}
	p.running = true
	p.logger.WithField("dir", p.config.OutputDir).Info("Profiling started")
	return nil
}

func (p *Profiler) path(kind ProfilerType) string {
	return filepath.Join(p.config.OutputDir, fmt.Sprintf("%s_%s.prof", kind, p.stamp))
}

// startCPUProfile starts CPU profiling
func (p *Profiler) startCPUProfile() error {
	p.cpuPath = p.path(ProfilerTypeCPU)
	file, err := os.Create(p.cpuPath)
	if err != nil {
		return fmt.Errorf("failed to create CPU profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(file); err != nil {
		file.Close()
		return fmt.Errorf("failed to start CPU profile: %w", err)
	}
	p.cpuFile = file
	return nil
}

// Stop writes every configured profile and returns the summary.
func (p *Profiler) Stop() (*PerformanceSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil, fmt.Errorf("profiler not running")
	}
	p.running = false
	elapsed := time.Since(p.startTime)

	var results []ProfileResult
	var firstErr error
	record := func(kind ProfilerType, path string, err error) {
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s profile: %w", kind, err)
			}
			return
		}
		results = append(results, ProfileResult{Type: kind, OutputFile: path, Duration: elapsed})
	}

	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		record(ProfilerTypeCPU, p.cpuPath, p.cpuFile.Close())
		p.cpuFile = nil
	}
	if p.config.MemoryProfile {
		runtime.GC()
		path := p.path(ProfilerTypeMemory)
		record(ProfilerTypeMemory, path, writeLookup("heap", path))
		path = p.path(ProfilerTypeGoroutine)
		record(ProfilerTypeGoroutine, path, writeLookup("goroutine", path))
	}
	if p.config.BlockProfile {
		path := p.path(ProfilerTypeBlock)
		record(ProfilerTypeBlock, path, writeLookup("block", path))
		runtime.SetBlockProfileRate(0)
	}
	if p.config.MutexProfile {
		path := p.path(ProfilerTypeMutex)
		record(ProfilerTypeMutex, path, writeLookup("mutex", path))
		runtime.SetMutexProfileFraction(0)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	summary := &PerformanceSummary{
		Duration:   elapsed,
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  m.HeapAlloc,
		HeapSys:    m.HeapSys,
		GCs:        m.NumGC,
		GCPause:    time.Duration(m.PauseTotalNs),
		Results:    results,
	}
	p.logger.WithFields(logrus.Fields{
		"duration":   elapsed.Round(time.Millisecond),
		"profiles":   len(results),
		"heap_alloc": m.HeapAlloc,
		"gcs":        m.NumGC,
	}).Info("Profiling stopped")
	return summary, firstErr
}

// IsRunning reports whether profiling is active.
func (p *Profiler) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func writeLookup(name, path string) error {
	prof := pprof.Lookup(name)
	if prof == nil {
		return fmt.Errorf("unknown profile %q", name)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := prof.WriteTo(file, 0); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
