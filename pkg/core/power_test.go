/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: power_test.go
Description: Tests for the annealing power schedule and the directed scheduler.
*/

package core_test

import (
	"math"
	"testing"
	"time"

	"github.com/kleascm/akaylee-directed/pkg/core"
	"github.com/kleascm/akaylee-directed/pkg/distrt"
	"github.com/kleascm/akaylee-directed/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemperature(t *testing.T) {
	tx := 10 * time.Minute
	assert.Equal(t, 1.0, core.Temperature(0, tx))
	assert.InDelta(t, 0.05, core.Temperature(tx, tx), 1e-12)
	assert.InDelta(t, 0.0025, core.Temperature(2*tx, tx), 1e-12)
	assert.Equal(t, 0.0, core.Temperature(time.Minute, 0))
}

func TestAnnealingFollowsCampaignBudget(t *testing.T) {
	cfg := &interfaces.FuzzerConfig{TargetPath: "/bin/true", CorpusDir: t.TempDir(), Duration: 10 * time.Minute}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, cfg.Duration, cfg.TimeToExploit)
	assert.InDelta(t, 0.05, core.Temperature(cfg.Duration, cfg.TimeToExploit), 1e-12)
	assert.Greater(t, core.PowerFactor(0, core.Temperature(cfg.Duration, cfg.TimeToExploit)), 25.0)

	explicit := &interfaces.FuzzerConfig{TargetPath: "/bin/true", CorpusDir: t.TempDir(),
		Duration: 10 * time.Minute, TimeToExploit: 2 * time.Minute}
	require.NoError(t, explicit.Validate())
	assert.Equal(t, 2*time.Minute, explicit.TimeToExploit)

	unbounded := &interfaces.FuzzerConfig{TargetPath: "/bin/true", CorpusDir: t.TempDir()}
	require.NoError(t, unbounded.Validate())
	assert.Equal(t, interfaces.DefaultTimeToExploit, unbounded.TimeToExploit)
}

func TestPowerFactor(t *testing.T) {
	// Hot: every distance gets the same energy.
	assert.InDelta(t, 1.0, core.PowerFactor(0, 1), 1e-12)
	assert.InDelta(t, 1.0, core.PowerFactor(1, 1), 1e-12)

	// Cold: closest gets 2^5, farthest 2^-5.
	assert.InDelta(t, 32.0, core.PowerFactor(0, 0), 1e-12)
	assert.InDelta(t, 1.0/32, core.PowerFactor(1, 0), 1e-12)
	assert.InDelta(t, 1.0, core.PowerFactor(0.5, 0), 1e-12)

	// Monotone in distance once cooling starts.
	assert.Greater(t, core.PowerFactor(0.2, 0.3), core.PowerFactor(0.8, 0.3))
	assert.InDelta(t, 32.0, core.PowerFactor(-1, 0), 1e-12)
}

func TestNormalizeDistance(t *testing.T) {
	assert.Equal(t, 0.5, core.NormalizeDistance(3, 3, 3))
	assert.Equal(t, 0.0, core.NormalizeDistance(1, 1, 5))
	assert.Equal(t, 1.0, core.NormalizeDistance(5, 1, 5))
	assert.Equal(t, 0.25, core.NormalizeDistance(2, 1, 5))
}

func TestMutationBudget(t *testing.T) {
	assert.Equal(t, 16, core.MutationBudget(16, 1))
	assert.Equal(t, 1, core.MutationBudget(16, 1.0/32))
	assert.Equal(t, 512, core.MutationBudget(16, 32))
	assert.Equal(t, 512, core.MutationBudget(16, 1000))
	assert.Equal(t, 1, core.MutationBudget(0, 0))
}

func withDistance(id string, d float64) *interfaces.TestCase {
	rec := distrt.Record{TotalDistance: uint64(math.Round(d * distrt.Scale)), TotalCount: 1}
	return &interfaces.TestCase{ID: id, Distance: &interfaces.DistanceSample{Record: rec, Average: d}}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestDirectedSchedulerEnergy(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := core.NewDirectedScheduler(time.Hour)
	s.SetClock(clock.now)

	near := withDistance("near", 1)
	far := withDistance("far", 5)
	blind := &interfaces.TestCase{ID: "blind"}

	// No signal yet: coverage-only energy.
	assert.Equal(t, 1.0, s.Energy(near))

	s.Observe(near)
	s.Observe(far)
	s.Observe(blind)
	min, max, ok := s.Range()
	require.True(t, ok)
	assert.Equal(t, 1.0, min)
	assert.Equal(t, 5.0, max)

	// Campaign start: uniform.
	assert.InDelta(t, 1.0, s.Energy(near), 1e-9)
	assert.InDelta(t, 1.0, s.Energy(far), 1e-9)

	// Late: exploitation toward the near seed.
	clock.t = clock.t.Add(10 * time.Hour)
	assert.Greater(t, s.Energy(near), 30.0)
	assert.Less(t, s.Energy(far), 0.04)
	assert.Equal(t, 1.0, s.Energy(blind), "seeds without distance never starve")
}

func TestDirectedSchedulerRebalance(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := core.NewDirectedScheduler(time.Minute)
	s.SetClock(clock.now)

	near := withDistance("near", 0)
	far := withDistance("far", 9)
	s.Observe(near)
	s.Observe(far)

	s.Push(&interfaces.TestCase{ID: "from-far", ParentID: "far"})
	s.Push(&interfaces.TestCase{ID: "from-near", ParentID: "near"})
	s.Push(&interfaces.TestCase{ID: "orphan"})

	// Hot: all equal, FIFO.
	assert.Equal(t, "from-far", s.Next().ID)
	s.Push(&interfaces.TestCase{ID: "from-far-2", ParentID: "far"})

	clock.t = clock.t.Add(time.Hour)
	assert.Equal(t, 2, s.Rebalance())
	assert.Equal(t, "from-near", s.Next().ID)
	assert.Equal(t, "orphan", s.Next().ID)
	assert.Equal(t, "from-far-2", s.Next().ID)
	assert.Nil(t, s.Next())
}

func TestPrioritySchedulerIsUniform(t *testing.T) {
	s := core.NewPriorityScheduler()
	assert.Equal(t, 1.0, s.Energy(withDistance("x", 0)))
	assert.Equal(t, 0, s.Rebalance())
	assert.True(t, s.IsEmpty())
}
