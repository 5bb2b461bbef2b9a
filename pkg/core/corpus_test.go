/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: corpus_test.go
Description: Tests for the priority queue and the corpus.
*/

package core_test

import (
	"fmt"
	"testing"

	"github.com/kleascm/akaylee-directed/pkg/core"
	"github.com/kleascm/akaylee-directed/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityQueueOrder(t *testing.T) {
	pq := core.NewPriorityQueue()
	for i, p := range []int{5, 1, 9, 5, 3} {
		pq.Put(&interfaces.TestCase{ID: fmt.Sprintf("tc%d", i), Priority: p})
	}
	assert.True(t, pq.ValidateHeap())
	assert.Equal(t, "tc2", pq.Peek().ID)

	var got []string
	for !pq.IsEmpty() {
		got = append(got, pq.Get().ID)
	}
	assert.Equal(t, []string{"tc2", "tc0", "tc3", "tc4", "tc1"}, got)
	assert.Nil(t, pq.Get())
}

func TestPriorityQueueUpdateAndRemove(t *testing.T) {
	pq := core.NewPriorityQueue()
	for i := 0; i < 6; i++ {
		pq.Put(&interfaces.TestCase{ID: fmt.Sprintf("tc%d", i), Priority: i})
	}
	require.True(t, pq.UpdatePriority("tc0", 100))
	assert.False(t, pq.UpdatePriority("missing", 1))
	require.True(t, pq.Remove("tc5"))
	assert.False(t, pq.Remove("tc5"))
	assert.True(t, pq.ValidateHeap())
	assert.Equal(t, 5, pq.Size())
	assert.Equal(t, "tc0", pq.Get().ID)
	assert.Equal(t, "tc4", pq.Get().ID)

	n := pq.Reprioritize(func(tc *interfaces.TestCase) int {
		if tc.ID == "tc1" {
			return 50
		}
		return tc.Priority
	})
	assert.Equal(t, 1, n)
	assert.True(t, pq.ValidateHeap())
	assert.Equal(t, "tc1", pq.Get().ID)
}

func TestCorpusEvictionKeepsClosest(t *testing.T) {
	c := core.NewCorpus(3)
	c.Add(withDistance("a", 9))
	c.Add(withDistance("b", 1))
	c.Add(withDistance("c", 5))
	seed := withDistance("seed", 20)
	seed.Generation = 0
	seed.Metadata = map[string]interface{}{}

	for _, tc := range []*interfaces.TestCase{c.Get("a"), c.Get("b"), c.Get("c")} {
		tc.Generation = 1
	}
	evicted := c.Add(seed)
	assert.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, 3, c.Size())
	assert.Nil(t, c.Get("a"))

	closest := c.Closest(2)
	require.Len(t, closest, 2)
	assert.Equal(t, "b", closest[0].ID)
	assert.Equal(t, "c", closest[1].ID)
}

func TestCorpusRandomAndStats(t *testing.T) {
	c := core.NewCorpus(0)
	for i := 0; i < 20; i++ {
		c.Add(&interfaces.TestCase{ID: fmt.Sprintf("tc%02d", i), Generation: i % 2})
	}
	assert.Nil(t, c.Add(&interfaces.TestCase{ID: "tc00"}))

	picked := c.GetRandom(5)
	require.Len(t, picked, 5)
	seen := map[string]bool{}
	for _, tc := range picked {
		assert.False(t, seen[tc.ID])
		seen[tc.ID] = true
	}
	assert.Len(t, c.GetRandom(100), 20)

	stats := c.GetStats()
	assert.Equal(t, 20, stats["size"])
	assert.Equal(t, map[int]int{0: 10, 1: 10}, stats["generation_distribution"])
	assert.Equal(t, "tc00", c.GetAll()[0].ID)
	assert.True(t, c.Remove("tc00"))
	assert.Equal(t, 19, c.Size())
}
