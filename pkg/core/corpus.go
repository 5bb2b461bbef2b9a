/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: corpus.go
Description: Corpus of interesting test cases. Thread-safe map-backed store with eviction
that keeps seeds, crashers and the entries that ran closest to the targets.
*/

package core

import (
	"math/rand"
	"sort"
	"sync"
)

// Corpus manages the collection of test cases
type Corpus struct {
	testCases map[string]*TestCase
	mu        sync.RWMutex
	maxSize   int
	rng       *rand.Rand
}

// NewCorpus creates a corpus holding at most maxSize entries.
func NewCorpus(maxSize int) *Corpus {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Corpus{
		testCases: make(map[string]*TestCase),
		maxSize:   maxSize,
		rng:       rand.New(rand.NewSource(rand.Int63())),
	}
}

// Add adds a test case. It returns the IDs evicted to make room.
func (c *Corpus) Add(testCase *TestCase) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.testCases[testCase.ID]; exists {
		return nil
	}
	c.testCases[testCase.ID] = testCase
	return c.evict(c.maxSize)
}

// Get retrieves a test case by ID
func (c *Corpus) Get(id string) *TestCase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.testCases[id]
}

// GetRandom returns up to count distinct entries in random order.
func (c *Corpus) GetRandom(count int) []*TestCase {
	c.mu.Lock()
	defer c.mu.Unlock()

	if count <= 0 || len(c.testCases) == 0 {
		return nil
	}
	all := c.sortedLocked()
	c.rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if count > len(all) {
		count = len(all)
	}
	return all[:count]
}

// Closest returns up to count entries with a distance sample, nearest first.
func (c *Corpus) Closest(count int) []*TestCase {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*TestCase
	for _, tc := range c.sortedLocked() {
		if tc.Distance != nil {
			out = append(out, tc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Distance.Average < out[j].Distance.Average
	})
	if count > 0 && count < len(out) {
		out = out[:count]
	}
	return out
}

// Remove removes a test case from the corpus
func (c *Corpus) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.testCases[id]; exists {
		delete(c.testCases, id)
		return true
	}
	return false
}

// Size returns the current number of test cases in the corpus
func (c *Corpus) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.testCases)
}

// Cleanup shrinks the corpus to targetSize and returns the evicted IDs.
func (c *Corpus) Cleanup(targetSize int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evict(targetSize)
}

// GetAll returns all test cases ordered by ID.
func (c *Corpus) GetAll() []*TestCase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedLocked()
}

// GetStats returns corpus statistics
func (c *Corpus) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	generations := make(map[int]int)
	withDistance := 0
	var executions int64
	for _, tc := range c.testCases {
		generations[tc.Generation]++
		executions += tc.Executions
		if tc.Distance != nil {
			withDistance++
		}
	}
	return map[string]interface{}{
		"size":                    len(c.testCases),
		"max_size":                c.maxSize,
		"generation_distribution": generations,
		"total_executions":        executions,
		"with_distance":           withDistance,
	}
}

func (c *Corpus) sortedLocked() []*TestCase {
	out := make([]*TestCase, 0, len(c.testCases))
	for _, tc := range c.testCases {
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// evict removes the lowest scoring entries until size <= limit.
func (c *Corpus) evict(limit int) []string {
	excess := len(c.testCases) - limit
	if excess <= 0 {
		return nil
	}
	all := c.sortedLocked()
	sort.SliceStable(all, func(i, j int) bool {
		return retentionScore(all[i]) < retentionScore(all[j])
	})
	removed := make([]string, 0, excess)
	for _, tc := range all[:excess] {
		delete(c.testCases, tc.ID)
		removed = append(removed, tc.ID)
	}
	return removed
}

// retentionScore ranks entries for eviction; higher scores are kept.
func retentionScore(tc *TestCase) float64 {
	score := float64(tc.Priority) - 5*float64(tc.Executions)
	if tc.Coverage != nil {
		score += 10 * float64(tc.Coverage.NewBlocks)
	}
	if tc.Distance != nil {
		score += 1000 / (1 + tc.Distance.Average)
	}
	if _, crashed := tc.Metadata["found_crash"]; crashed {
		score += 1000
	}
	if tc.Generation == 0 {
		score += 500
	}
	return score
}
