/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: queue.go
Description: Priority queue of pending test cases. Binary heap ordered by priority, with
insertion order breaking ties so equal-energy work runs first in first out. Supports bulk
re-prioritization when the power schedule cools.
*/

package core

import (
	"sync"
	"time"
)

type queueItem struct {
	tc  *TestCase
	seq uint64
}

// PriorityQueue implements a thread-safe priority queue for test cases
type PriorityQueue struct {
	heap []queueItem
	mu   sync.RWMutex
	seq  uint64

	// Performance tracking
	insertions int64
	removals   int64
	lastAccess time.Time
}

// NewPriorityQueue creates a new priority queue instance
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{
		heap: make([]queueItem, 0, 1024),
	}
}

// Put adds a test case to the priority queue
func (pq *PriorityQueue) Put(testCase *TestCase) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	pq.seq++
	pq.heap = append(pq.heap, queueItem{tc: testCase, seq: pq.seq})
	pq.insertions++
	pq.lastAccess = time.Now()
	pq.bubbleUp(len(pq.heap) - 1)
}

// Get removes and returns the highest priority test case, or nil if empty.
func (pq *PriorityQueue) Get() *TestCase {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if len(pq.heap) == 0 {
		return nil
	}
	root := pq.heap[0].tc
	pq.removeAt(0)
	pq.removals++
	pq.lastAccess = time.Now()
	return root
}

// Peek returns the highest priority test case without removing it
func (pq *PriorityQueue) Peek() *TestCase {
	pq.mu.RLock()
	defer pq.mu.RUnlock()

	if len(pq.heap) == 0 {
		return nil
	}
	return pq.heap[0].tc
}

// Size returns the current number of test cases in the queue
func (pq *PriorityQueue) Size() int {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return len(pq.heap)
}

// IsEmpty returns true if the queue is empty
func (pq *PriorityQueue) IsEmpty() bool {
	return pq.Size() == 0
}

// Clear removes all test cases from the queue
func (pq *PriorityQueue) Clear() {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.heap = pq.heap[:0]
}

// GetStats returns queue statistics
func (pq *PriorityQueue) GetStats() map[string]interface{} {
	pq.mu.RLock()
	defer pq.mu.RUnlock()

	stats := map[string]interface{}{
		"size":        len(pq.heap),
		"insertions":  pq.insertions,
		"removals":    pq.removals,
		"last_access": pq.lastAccess,
	}
	if len(pq.heap) > 0 {
		minPriority, maxPriority := pq.heap[0].tc.Priority, pq.heap[0].tc.Priority
		for _, it := range pq.heap {
			if it.tc.Priority < minPriority {
				minPriority = it.tc.Priority
			}
		}
		stats["min_priority"] = minPriority
		stats["max_priority"] = maxPriority
	}
	return stats
}

// UpdatePriority updates the priority of a queued test case
func (pq *PriorityQueue) UpdatePriority(testCaseID string, newPriority int) bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	for i, it := range pq.heap {
		if it.tc.ID == testCaseID {
			old := it.tc.Priority
			it.tc.Priority = newPriority
			if newPriority > old {
				pq.bubbleUp(i)
			} else if newPriority < old {
				pq.bubbleDown(i)
			}
			return true
		}
	}
	return false
}

// Reprioritize assigns every queued test case the priority fn returns and
// rebuilds the heap. It returns how many priorities changed.
func (pq *PriorityQueue) Reprioritize(fn func(*TestCase) int) int {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	changed := 0
	for _, it := range pq.heap {
		if p := fn(it.tc); p != it.tc.Priority {
			it.tc.Priority = p
			changed++
		}
	}
	if changed > 0 {
		for i := len(pq.heap)/2 - 1; i >= 0; i-- {
			pq.bubbleDown(i)
		}
	}
	return changed
}

// Remove removes a specific test case from the queue
func (pq *PriorityQueue) Remove(testCaseID string) bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	for i, it := range pq.heap {
		if it.tc.ID == testCaseID {
			pq.removeAt(i)
			pq.removals++
			return true
		}
	}
	return false
}

// ValidateHeap checks if the heap property is maintained
func (pq *PriorityQueue) ValidateHeap() bool {
	pq.mu.RLock()
	defer pq.mu.RUnlock()

	for i := range pq.heap {
		for _, c := range []int{2*i + 1, 2*i + 2} {
			if c < len(pq.heap) && pq.less(i, c) {
				return false
			}
		}
	}
	return true
}

// less reports whether i ranks below j.
func (pq *PriorityQueue) less(i, j int) bool {
	a, b := pq.heap[i], pq.heap[j]
	if a.tc.Priority != b.tc.Priority {
		return a.tc.Priority < b.tc.Priority
	}
	return a.seq > b.seq
}

func (pq *PriorityQueue) removeAt(i int) {
	last := len(pq.heap) - 1
	pq.heap[i] = pq.heap[last]
	pq.heap[last] = queueItem{}
	pq.heap = pq.heap[:last]
	if i < last {
		pq.bubbleDown(i)
		pq.bubbleUp(i)
	}
}

func (pq *PriorityQueue) bubbleUp(index int) {
	for index > 0 {
		parent := (index - 1) / 2
		if !pq.less(parent, index) {
			break
		}
		pq.heap[index], pq.heap[parent] = pq.heap[parent], pq.heap[index]
		index = parent
	}
}

func (pq *PriorityQueue) bubbleDown(index int) {
	n := len(pq.heap)
	for {
		left, right, largest := 2*index+1, 2*index+2, index
		if left < n && pq.less(largest, left) {
			largest = left
		}
		if right < n && pq.less(largest, right) {
			largest = right
		}
		if largest == index {
			return
		}
		pq.heap[index], pq.heap[largest] = pq.heap[largest], pq.heap[index]
		index = largest
	}
}
