package branch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_SiblingBranches(t *testing.T) {
	s := NewStack[string]()
	f, err := s.Push(0, 0)
	require.NoError(t, err)

	require.NoError(t, f.StartBranch(0, 1))
	require.NoError(t, f.Append("a1"))
	require.NoError(t, f.Append("a2"))
	require.NoError(t, f.EndBranch())

	require.NoError(t, f.StartBranch(3, 2))
	require.NoError(t, f.Append("b1"))
	require.NoError(t, f.EndBranch())

	assert.Equal(t, 2, f.Len())
	assert.Equal(t, []int{1, 2}, f.Slots())
	assert.Equal(t, [][]string{{"a1", "a2"}, {"b1"}}, f.Chains())
	assert.Equal(t, 3, f.OpenedAt())

	popped, err := s.Pop()
	require.NoError(t, err)
	assert.Same(t, f, popped)
	assert.Equal(t, 0, s.Depth())
	assert.Nil(t, s.Top())
}

func TestFrame_AppendRequiresOpenBranch(t *testing.T) {
	s := NewStack[int]()
	f, err := s.Push(2, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, f.Append(1), ErrNoOpenBranch)
	assert.ErrorIs(t, f.EndBranch(), ErrNoOpenBranch)

	_, err = f.Slot()
	assert.ErrorIs(t, err, ErrNoOpenBranch)

	require.NoError(t, f.StartBranch(2, 1))
	slot, err := f.Slot()
	require.NoError(t, err)
	assert.Equal(t, 1, slot)
	assert.ErrorIs(t, f.StartBranch(3, 2), ErrBranchOpen)
}

func TestFrame_SlotsMustIncrease(t *testing.T) {
	f, err := NewStack[int]().Push(0, 0)
	require.NoError(t, err)
	require.NoError(t, f.StartBranch(0, 3))
	require.NoError(t, f.EndBranch())
	assert.ErrorIs(t, f.StartBranch(1, 2), ErrSlotMismatch)
}

func TestStack_Nesting(t *testing.T) {
	s := NewStack[int]()
	outer, err := s.Push(0, 0)
	require.NoError(t, err)
	require.NoError(t, outer.StartBranch(0, 1))

	inner, err := s.Push(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Depth())
	assert.Same(t, inner, s.Top())

	// Pushing while the innermost frame has no open branch is not allowed.
	require.NoError(t, inner.StartBranch(1, 2))
	require.NoError(t, inner.EndBranch())
	_, err = s.Push(5, 2)
	assert.Error(t, err)

	_, err = s.Pop()
	require.NoError(t, err)
	assert.Same(t, outer, s.Top())
}

func TestStack_PopErrors(t *testing.T) {
	s := NewStack[int]()
	_, err := s.Pop()
	assert.ErrorIs(t, err, ErrEmpty)

	f, _ := s.Push(0, 0)
	_, err = s.Pop()
	assert.ErrorIs(t, err, ErrNoBranches)

	require.NoError(t, f.StartBranch(0, 1))
	_, err = s.Pop()
	assert.ErrorIs(t, err, ErrBranchOpen)
	assert.Equal(t, 1, s.Depth())
}
