/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: composite.go
Description: Composite mutator that stacks several strategies into one havoc-style mutation.
The stacked result is a single child of the original test case.
*/

package strategies

import (
	"fmt"
	"strings"

	"github.com/kleascm/akaylee-directed/pkg/interfaces"
)

// CompositeMutator composes multiple Mutator instances for chained mutation.
type CompositeMutator struct {
	mutators    []interfaces.Mutator
	chainLength int
	randomOrder bool
	rng         *lockedRand
}

// NewCompositeMutator creates a new CompositeMutator. chainLength defaults to
// len(mutators) when zero or too large.
func NewCompositeMutator(mutators []interfaces.Mutator, chainLength int, randomOrder bool) *CompositeMutator {
	if chainLength <= 0 || chainLength > len(mutators) {
		chainLength = len(mutators)
	}
	return &CompositeMutator{
		mutators:    mutators,
		chainLength: chainLength,
		randomOrder: randomOrder,
		rng:         defaultRand,
	}
}

// Mutate applies the chain. Intermediate results are discarded so the child
// links straight to testCase.
func (c *CompositeMutator) Mutate(testCase *interfaces.TestCase) (*interfaces.TestCase, error) {
	if len(c.mutators) == 0 {
		return nil, fmt.Errorf("composite mutator has no mutators")
	}

	order := make([]int, len(c.mutators))
	for i := range order {
		order[i] = i
	}
	if c.randomOrder {
		c.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	current := testCase
	names := make([]string, 0, c.chainLength)
	for _, idx := range order[:c.chainLength] {
		m := c.mutators[idx]
		next, err := m.Mutate(current)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name(), err)
		}
		current = next
		names = append(names, m.Name())
	}

	child := derive(testCase, current.Data, c.Name(), 0)
	child.Metadata["composite_chain"] = strings.Join(names, ",")
	return child, nil
}

// Name returns the name of this mutator.
func (c *CompositeMutator) Name() string {
	return "CompositeMutator"
}

// Description returns a description of this mutator.
func (c *CompositeMutator) Description() string {
	return "Chains multiple mutators into one mutation (sequential or random order)"
}
