/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: distmap.go
Description: Immutable block to distance map. A Builder collects entries; every Build returns
a snapshot that is read-only and safe for concurrent readers.
*/

package distance

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/maps"
)

var (
	// ErrDuplicateBlock is returned when a block identity is added twice.
	ErrDuplicateBlock = errors.New("duplicate block identity")
	// ErrMalformedDistanceFile is returned when a serialized map fails validation.
	ErrMalformedDistanceFile = errors.New("malformed distance file")
)

// Map is an immutable mapping from block identity to a non-negative distance.
// Unreachable blocks are absent.
type Map struct {
	dist map[string]float64
	keys []string
}

// Get returns the distance of a block and whether the block is reachable.
func (m *Map) Get(block string) (float64, bool) {
	d, ok := m.dist[block]
	return d, ok
}

// Len returns the number of reachable blocks.
func (m *Map) Len() int {
	return len(m.keys)
}

// Blocks returns the block identities in serialization order.
func (m *Map) Blocks() []string {
	return append([]string(nil), m.keys...)
}

// Range calls fn for every entry in serialization order.
func (m *Map) Range(fn func(block string, d float64)) {
	for _, k := range m.keys {
		fn(k, m.dist[k])
	}
}

// Builder accumulates map entries.
type Builder struct {
	dist map[string]float64
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{dist: make(map[string]float64)}
}

// Add records the distance of a block. Each identity may be added once.
func (b *Builder) Add(block string, d float64) error {
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return fmt.Errorf("block %s: invalid distance %v", block, d)
	}
	if _, dup := b.dist[block]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateBlock, block)
	}
	b.dist[block] = d
	return nil
}

// Build returns a snapshot of the collected entries. The builder stays usable
// and later additions do not affect maps already built.
func (b *Builder) Build() *Map {
	dist := maps.Clone(b.dist)
	keys := maps.Keys(dist)
	sort.Strings(keys)
	return &Map{dist: dist, keys: keys}
}
