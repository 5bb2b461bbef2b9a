/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: mutators_test.go
Description: Tests for the byte-level mutators and the composite chain.
*/

package strategies_test

import (
	"bytes"
	"testing"

	"github.com/kleascm/akaylee-directed/pkg/interfaces"
	"github.com/kleascm/akaylee-directed/pkg/strategies"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parent() *interfaces.TestCase {
	return &interfaces.TestCase{
		ID:         "parent",
		Data:       []byte{0x00, 0x05, 0x41, 0x42, 0x43, 0x44, 0x45, 0x46},
		Generation: 3,
		Priority:   250,
	}
}

func TestMutatorsDeriveChildren(t *testing.T) {
	for _, m := range strategies.DefaultMutators(0.5) {
		t.Run(m.Name(), func(t *testing.T) {
			p := parent()
			orig := append([]byte(nil), p.Data...)
			child, err := m.Mutate(p)
			require.NoError(t, err)

			assert.Equal(t, "parent", child.ParentID)
			assert.Equal(t, 4, child.Generation)
			assert.Equal(t, 250, child.Priority)
			assert.NotEqual(t, p.ID, child.ID)
			assert.Len(t, child.Data, len(orig))
			assert.Equal(t, m.Name(), child.Metadata["mutator"])
			assert.Equal(t, orig, p.Data, "parent data must not change")
			assert.NotEmpty(t, m.Description())
		})
	}
}

func TestBitFlipAtFullRateInverts(t *testing.T) {
	p := parent()
	child, err := strategies.NewBitFlipMutator(1).Mutate(p)
	require.NoError(t, err)
	for i := range p.Data {
		assert.Equal(t, ^p.Data[i], child.Data[i])
	}

	same, err := strategies.NewBitFlipMutator(0).Mutate(p)
	require.NoError(t, err)
	assert.Equal(t, p.Data, same.Data)
}

func TestCrossOverIsRotation(t *testing.T) {
	p := parent()
	child, err := strategies.NewCrossOverMutator(1).Mutate(p)
	require.NoError(t, err)
	assert.NotEqual(t, p.Data, child.Data)
	doubled := append(append([]byte(nil), p.Data...), p.Data...)
	assert.True(t, bytes.Contains(doubled, child.Data))
}

func TestCompositeLinksToOriginal(t *testing.T) {
	c := strategies.NewCompositeMutator([]interfaces.Mutator{
		strategies.NewBitFlipMutator(1),
		strategies.NewBitFlipMutator(1),
	}, 0, true)
	p := parent()
	child, err := c.Mutate(p)
	require.NoError(t, err)
	assert.Equal(t, p.Data, child.Data, "two full flips cancel")
	assert.Equal(t, "parent", child.ParentID)
	assert.Equal(t, 4, child.Generation)
	assert.Equal(t, "BitFlipMutator,BitFlipMutator", child.Metadata["composite_chain"])

	_, err = strategies.NewCompositeMutator(nil, 0, false).Mutate(p)
	assert.Error(t, err)
}
