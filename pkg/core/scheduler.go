/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: scheduler.go
Description: Scheduler interface and implementations for pluggable test case scheduling.
PriorityScheduler gives every seed the same energy; DirectedScheduler assigns energy from the
distance feedback of each corpus entry through the annealing power schedule.
*/

package core

import (
	"math"
	"sync"
	"time"
)

// Scheduler defines the interface for pluggable test case scheduling.
type Scheduler interface {
	// Next returns the next test case to execute, or nil if empty.
	Next() *TestCase
	// Push adds a test case to the scheduler.
	Push(tc *TestCase)
	// Size returns the number of test cases in the scheduler.
	Size() int
	// IsEmpty returns true if the scheduler is empty.
	IsEmpty() bool
	// Observe records an executed corpus entry and its feedback.
	Observe(tc *TestCase)
	// Forget drops a corpus entry that was evicted.
	Forget(id string)
	// Energy returns the mutation budget multiplier of a corpus entry.
	Energy(tc *TestCase) float64
	// Rebalance recomputes the priority of every queued test case.
	Rebalance() int
	// Temperature reports the current annealing temperature.
	Temperature() float64
}

// basePriority is the priority of a test case with energy 1.
const basePriority = 100

// energyPriority converts an energy multiplier into a queue priority.
func energyPriority(energy float64) int {
	return int(math.Round(basePriority * energy))
}

// PriorityScheduler implements Scheduler using a PriorityQueue.
type PriorityScheduler struct {
	queue *PriorityQueue
}

// NewPriorityScheduler creates a new PriorityScheduler instance.
func NewPriorityScheduler() *PriorityScheduler {
	return &PriorityScheduler{
		queue: NewPriorityQueue(),
	}
}

// Next returns the next test case (highest priority) or nil if empty.
func (s *PriorityScheduler) Next() *TestCase {
	return s.queue.Get()
}

// Push adds a test case to the scheduler.
func (s *PriorityScheduler) Push(tc *TestCase) {
	s.queue.Put(tc)
}

// Size returns the number of test cases in the scheduler.
func (s *PriorityScheduler) Size() int {
	return s.queue.Size()
}

// IsEmpty returns true if the scheduler is empty.
func (s *PriorityScheduler) IsEmpty() bool {
	return s.queue.IsEmpty()
}

func (s *PriorityScheduler) Observe(tc *TestCase)        {}
func (s *PriorityScheduler) Forget(id string)            {}
func (s *PriorityScheduler) Energy(tc *TestCase) float64 { return 1 }
func (s *PriorityScheduler) Rebalance() int              { return 0 }
func (s *PriorityScheduler) Temperature() float64        { return 1 }

// DirectedScheduler implements the annealing power schedule. Entries without
// a distance sample fall back to coverage-only energy (factor 1).
type DirectedScheduler struct {
	queue         *PriorityQueue
	timeToExploit time.Duration
	start         time.Time
	now           func() time.Time

	mu          sync.RWMutex
	entries     map[string]*TestCase
	minDistance float64
	maxDistance float64
	haveSignal  bool
}

// NewDirectedScheduler creates a scheduler whose temperature reaches 0.05
// after timeToExploit.
func NewDirectedScheduler(timeToExploit time.Duration) *DirectedScheduler {
	return &DirectedScheduler{
		queue:         NewPriorityQueue(),
		timeToExploit: timeToExploit,
		start:         time.Now(),
		now:           time.Now,
		entries:       make(map[string]*TestCase),
	}
}

// SetClock replaces the time source and restarts the campaign clock.
func (s *DirectedScheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.start = now()
}

func (s *DirectedScheduler) Next() *TestCase {
	return s.queue.Get()
}

// Push queues a test case at the priority its parent's energy grants.
func (s *DirectedScheduler) Push(tc *TestCase) {
	tc.Priority = s.priorityOf(tc)
	s.queue.Put(tc)
}

func (s *DirectedScheduler) Size() int {
	return s.queue.Size()
}

func (s *DirectedScheduler) IsEmpty() bool {
	return s.queue.IsEmpty()
}

// Observe registers a corpus entry and widens the distance range.
func (s *DirectedScheduler) Observe(tc *TestCase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[tc.ID] = tc
	if tc.Distance == nil {
		return
	}
	d := tc.Distance.Average
	if !s.haveSignal {
		s.minDistance, s.maxDistance = d, d
		s.haveSignal = true
		return
	}
	s.minDistance = math.Min(s.minDistance, d)
	s.maxDistance = math.Max(s.maxDistance, d)
}

// Forget drops an evicted entry. The distance range is not shrunk.
func (s *DirectedScheduler) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Temperature returns the annealing temperature at the current campaign time.
func (s *DirectedScheduler) Temperature() float64 {
	s.mu.RLock()
	elapsed := s.now().Sub(s.start)
	s.mu.RUnlock()
	return Temperature(elapsed, s.timeToExploit)
}

// Energy returns the power factor of a corpus entry.
func (s *DirectedScheduler) Energy(tc *TestCase) float64 {
	if tc == nil || tc.Distance == nil {
		return 1
	}
	s.mu.RLock()
	if !s.haveSignal {
		s.mu.RUnlock()
		return 1
	}
	nd := NormalizeDistance(tc.Distance.Average, s.minDistance, s.maxDistance)
	s.mu.RUnlock()
	return PowerFactor(nd, s.Temperature())
}

// Range returns the observed distance range.
func (s *DirectedScheduler) Range() (min, max float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minDistance, s.maxDistance, s.haveSignal
}

// Rebalance re-prioritizes the queue for the current temperature and range.
func (s *DirectedScheduler) Rebalance() int {
	return s.queue.Reprioritize(s.priorityOf)
}

// priorityOf ranks a queued test case by its parent's energy. Seeds and
// orphans run at base priority.
func (s *DirectedScheduler) priorityOf(tc *TestCase) int {
	s.mu.RLock()
	parent := s.entries[tc.ParentID]
	s.mu.RUnlock()
	if parent == nil {
		return basePriority
	}
	return energyPriority(s.Energy(parent))
}
