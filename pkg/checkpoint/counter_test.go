package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkFirstOfEpoch(t *testing.T) {
	c := NewCounter(2)

	first, complete := c.Mark(0, 1)

	assert.True(t, first)
	assert.False(t, complete)
	assert.True(t, c.IsBlocked(0))
	assert.False(t, c.AllClear())
}

func TestMarkCompletesEpoch(t *testing.T) {
	c := NewCounter(2)

	_, _ = c.Mark(0, 1)
	first, complete := c.Mark(1, 1)

	assert.False(t, first)
	assert.True(t, complete)
	assert.True(t, c.AllClear())
	assert.False(t, c.IsBlocked(0))
}

func TestMarkFromRetiredPartitionIsIgnored(t *testing.T) {
	c := NewCounter(2)
	c.Retire(1)

	first, complete := c.Mark(1, 1)

	assert.False(t, first)
	assert.False(t, complete)
}

func TestRetireDuringAlignmentCanCompleteEpoch(t *testing.T) {
	c := NewCounter(2)

	_, _ = c.Mark(0, 1)
	complete := c.Retire(1)

	assert.True(t, complete)
	assert.True(t, c.AllClear())
}

func TestRetireBeforeEpochDoesNotStartOne(t *testing.T) {
	c := NewCounter(2)

	complete := c.Retire(0)

	assert.False(t, complete)
	assert.True(t, c.AllClear())
}

// TestAlignedCheckpointTwoInputOperator reproduces the worked example: a
// 2-input operator receives a barrier on input A first, blocking it,
// then a barrier on input B, which completes the epoch and unblocks A.
func TestAlignedCheckpointTwoInputOperator(t *testing.T) {
	c := NewCounter(2)
	const inputA, inputB = 0, 1

	first, complete := c.Mark(inputA, 1)
	require.True(t, first)
	require.False(t, complete)
	require.True(t, c.IsBlocked(inputA))
	require.False(t, c.IsBlocked(inputB))

	_, complete = c.Mark(inputB, 1)
	require.True(t, complete)
	require.True(t, c.AllClear())
	require.False(t, c.IsBlocked(inputA))
}
