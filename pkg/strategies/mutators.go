/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: mutators.go
Description: Byte-level mutation strategies for the directed fuzzer: bit flips, byte
substitution, 32-bit arithmetic, length-aware substitution and rotation crossover. Every
mutator derives a child test case that records its parent, so the scheduler can hand the
parent's energy down to it.
*/

package strategies

import (
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kleascm/akaylee-directed/pkg/interfaces"
)

// lockedRand is a goroutine-safe source shared by the mutators of one engine.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}

func (r *lockedRand) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rng.Shuffle(n, swap)
}

var defaultRand = newLockedRand(time.Now().UnixNano())

// derive builds the child test case for a mutation of parent.
func derive(parent *interfaces.TestCase, data []byte, name string, rate float64) *interfaces.TestCase {
	return &interfaces.TestCase{
		ID:         uuid.New().String(),
		Data:       data,
		ParentID:   parent.ID,
		Generation: parent.Generation + 1,
		CreatedAt:  time.Now(),
		Priority:   parent.Priority,
		Metadata: map[string]interface{}{
			"mutator":       name,
			"mutation_rate": rate,
		},
	}
}

func clone(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// BitFlipMutator flips individual bits with probability mutationRate.
type BitFlipMutator struct {
	mutationRate float64
	rng          *lockedRand
}

// NewBitFlipMutator creates a new bit flip mutator
func NewBitFlipMutator(mutationRate float64) *BitFlipMutator {
	return &BitFlipMutator{mutationRate: mutationRate, rng: defaultRand}
}

// Mutate creates a new test case by flipping bits in the original
func (m *BitFlipMutator) Mutate(testCase *interfaces.TestCase) (*interfaces.TestCase, error) {
	data := clone(testCase.Data)
	for i := 0; i < len(data)*8; i++ {
		if m.rng.Float64() < m.mutationRate {
			data[i/8] ^= 1 << (i % 8)
		}
	}
	return derive(testCase, data, m.Name(), m.mutationRate), nil
}

// Name returns the name of this mutator
func (m *BitFlipMutator) Name() string { return "BitFlipMutator" }

// Description returns a description of this mutator
func (m *BitFlipMutator) Description() string {
	return "Flips individual bits in test case data for fine-grained mutations"
}

// ByteSubstitutionMutator replaces bytes with random values or interesting
// boundary values.
type ByteSubstitutionMutator struct {
	mutationRate float64
	rng          *lockedRand
}

// interesting8 are the boundary bytes AFL-style fuzzers favour.
var interesting8 = []byte{0x00, 0x01, 0x10, 0x20, 0x40, 0x64, 0x7f, 0x80, 0xff}

// NewByteSubstitutionMutator creates a new byte substitution mutator
func NewByteSubstitutionMutator(mutationRate float64) *ByteSubstitutionMutator {
	return &ByteSubstitutionMutator{mutationRate: mutationRate, rng: defaultRand}
}

// Mutate creates a new test case by substituting bytes in the original
func (m *ByteSubstitutionMutator) Mutate(testCase *interfaces.TestCase) (*interfaces.TestCase, error) {
	data := clone(testCase.Data)
	for i := range data {
		if m.rng.Float64() >= m.mutationRate {
			continue
		}
		if m.rng.Intn(2) == 0 {
			data[i] = interesting8[m.rng.Intn(len(interesting8))]
		} else {
			data[i] = byte(m.rng.Intn(256))
		}
	}
	return derive(testCase, data, m.Name(), m.mutationRate), nil
}

// Name returns the name of this mutator
func (m *ByteSubstitutionMutator) Name() string { return "ByteSubstitutionMutator" }

// Description returns a description of this mutator
func (m *ByteSubstitutionMutator) Description() string {
	return "Substitutes bytes with random or boundary values"
}

// ArithmeticMutator adds small deltas to little-endian 32-bit words.
type ArithmeticMutator struct {
	mutationRate float64
	rng          *lockedRand
}

var arithmeticOps = []func(int32) int32{
	func(x int32) int32 { return x + 1 },
	func(x int32) int32 { return x - 1 },
	func(x int32) int32 { return x * 2 },
	func(x int32) int32 { return x / 2 },
	func(x int32) int32 { return x ^ 0x7FFFFFFF },
	func(x int32) int32 { return x + 0x1000 },
	func(x int32) int32 { return x - 0x1000 },
}

// NewArithmeticMutator creates a new arithmetic mutator
func NewArithmeticMutator(mutationRate float64) *ArithmeticMutator {
	return &ArithmeticMutator{mutationRate: mutationRate, rng: defaultRand}
}

// Mutate creates a new test case by performing arithmetic operations
func (m *ArithmeticMutator) Mutate(testCase *interfaces.TestCase) (*interfaces.TestCase, error) {
	data := clone(testCase.Data)
	for i := 0; i+4 <= len(data); i++ {
		if m.rng.Float64() >= m.mutationRate {
			continue
		}
		v := int32(binary.LittleEndian.Uint32(data[i:]))
		v = arithmeticOps[m.rng.Intn(len(arithmeticOps))](v)
		binary.LittleEndian.PutUint32(data[i:], uint32(v))
	}
	return derive(testCase, data, m.Name(), m.mutationRate), nil
}

// Name returns the name of this mutator
func (m *ArithmeticMutator) Name() string { return "ArithmeticMutator" }

// Description returns a description of this mutator
func (m *ArithmeticMutator) Description() string {
	return "Performs arithmetic operations on 32-bit values in test cases"
}

// StructureAwareMutator substitutes bytes but keeps likely length fields
// (a non-zero byte after a zero) near their original value.
type StructureAwareMutator struct {
	mutationRate float64
	rng          *lockedRand
}

// NewStructureAwareMutator creates a new structure-aware mutator
func NewStructureAwareMutator(mutationRate float64) *StructureAwareMutator {
	return &StructureAwareMutator{mutationRate: mutationRate, rng: defaultRand}
}

// Mutate creates a new test case with structure-aware mutations
func (m *StructureAwareMutator) Mutate(testCase *interfaces.TestCase) (*interfaces.TestCase, error) {
	data := clone(testCase.Data)
	if len(data) >= 4 {
		for i := range data {
			if m.rng.Float64() >= m.mutationRate {
				continue
			}
			if i > 0 && data[i-1] == 0x00 && data[i] > 0 {
				data[i] = byte(m.rng.Intn(int(data[i]) + 10))
			} else {
				data[i] = byte(m.rng.Intn(256))
			}
		}
	}
	return derive(testCase, data, m.Name(), m.mutationRate), nil
}

// Name returns the name of this mutator
func (m *StructureAwareMutator) Name() string { return "StructureAwareMutator" }

// Description returns a description of this mutator
func (m *StructureAwareMutator) Description() string {
	return "Performs mutations while preserving likely length fields"
}

// CrossOverMutator rotates the input around a random split point.
type CrossOverMutator struct {
	mutationRate float64
	rng          *lockedRand
}

// NewCrossOverMutator creates a new crossover mutator
func NewCrossOverMutator(mutationRate float64) *CrossOverMutator {
	return &CrossOverMutator{mutationRate: mutationRate, rng: defaultRand}
}

// Mutate recombines the two halves of the input. The length is preserved.
func (m *CrossOverMutator) Mutate(testCase *interfaces.TestCase) (*interfaces.TestCase, error) {
	data := clone(testCase.Data)
	if len(data) > 1 && m.rng.Float64() < m.mutationRate {
		split := 1 + m.rng.Intn(len(data)-1)
		rotated := make([]byte, 0, len(data))
		rotated = append(rotated, data[split:]...)
		data = append(rotated, data[:split]...)
	}
	return derive(testCase, data, m.Name(), m.mutationRate), nil
}

// Name returns the name of this mutator
func (m *CrossOverMutator) Name() string { return "CrossOverMutator" }

// Description returns a description of this mutator
func (m *CrossOverMutator) Description() string {
	return "Recombines parts of a test case around a split point"
}

// DefaultMutators returns the standard byte-level set at the given rate.
func DefaultMutators(rate float64) []interfaces.Mutator {
	return []interfaces.Mutator{
		NewBitFlipMutator(rate),
		NewByteSubstitutionMutator(rate),
		NewArithmeticMutator(rate),
		NewStructureAwareMutator(rate),
		NewCrossOverMutator(rate),
	}
}
