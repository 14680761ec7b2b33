package prosody_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/prosody-service/internal/prosody"
)

func TestAssemble_HardConcatenation(t *testing.T) {
	t.Parallel()

	parts := [][]float64{{0.1, 0.2}, {}, {0.3}, {0.4, 0.5, 0.6}}

	assembled, err := prosody.Assemble(parts, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, assembled)
}

func TestAssemble_Crossfade(t *testing.T) {
	t.Parallel()

	parts := [][]float64{{1, 1, 1, 1}, {0, 0, 0, 0, 0}}

	assembled, err := prosody.Assemble(parts, 3)
	require.NoError(t, err)

	require.Len(t, assembled, 6)
	assert.Equal(t, []float64{1, 1, 0.5, 0, 0, 0}, assembled)
}

func TestAssemble_CrossfadeLimitedByNeighbours(t *testing.T) {
	t.Parallel()

	parts := [][]float64{{1, 1, 1, 1, 1, 1}, make([]float64, 10), {1, 1, 1}}

	assembled, err := prosody.Assemble(parts, 4)
	require.NoError(t, err)

	// 4 samples at the first boundary, 3 at the second (the last part is short).
	assert.Len(t, assembled, 6+10+3-4-3)
	assert.InDelta(t, 1.0, assembled[len(assembled)-1], 0)
}

func TestAssemble_ConsumedNeighbourLeavesNoOverlap(t *testing.T) {
	t.Parallel()

	// The first boundary uses both samples of the middle part, leaving
	// nothing to blend at the second.
	parts := [][]float64{{1, 1, 1, 1, 1, 1}, {0, 0}, {1, 1, 1}}

	_, err := prosody.Assemble(parts, 10)
	require.ErrorIs(t, err, prosody.ErrCrossfadeTooLong)
}

func TestAssemble_CrossfadeTooLong(t *testing.T) {
	t.Parallel()

	_, err := prosody.Assemble([][]float64{{1, 1, 1}, {0.5}, {1, 1, 1}}, 2)
	require.ErrorIs(t, err, prosody.ErrCrossfadeTooLong)

	assembled, err := prosody.Assemble([][]float64{{1, 1, 1}, {0.5}, {1, 1, 1}}, 0)
	require.NoError(t, err)
	assert.Len(t, assembled, 7)
}
