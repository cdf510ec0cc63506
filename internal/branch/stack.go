// Package branch keeps track of open branch groups while a layer sequence is compiled.
//
// A Frame is one branch group: it is pushed by the BranchOpen that starts its first
// branch, accumulates one chain of T (compiled transforms) per branch, and is popped
// by the Join that consumes it. BranchClose ends a branch without reducing the nesting
// depth; a following BranchOpen starts a sibling inside the same frame.
package branch

import (
	"errors"
	"fmt"
)

// Errors returned by Frame and Stack operations.
var (
	ErrEmpty         = errors.New("no open branch group")
	ErrNoOpenBranch  = errors.New("no open branch in group")
	ErrBranchOpen    = errors.New("branch still open")
	ErrNoBranches    = errors.New("branch group has no branches")
	ErrSlotMismatch  = errors.New("branch slot does not match group layout")
	errInvalidOrigin = errors.New("invalid branch origin")
)

// Frame is one branch group awaiting its Join.
type Frame[T any] struct {
	// Position is the index in the declared sequence of the BranchOpen that pushed the frame.
	Position int
	// Base is the shape slot the branches fork from and the Join writes back to.
	Base int

	slots     []int
	openedAt  []int
	chains    [][]T
	branchSet bool
}

// Len returns the number of branches started in this frame.
func (f *Frame[T]) Len() int {
	return len(f.chains)
}

// BranchOpen reports whether the last branch of the frame is still open.
func (f *Frame[T]) BranchOpen() bool {
	return f.branchSet
}

// Slot returns the shape slot of the currently open branch.
func (f *Frame[T]) Slot() (int, error) {
	if !f.branchSet {
		return -1, ErrNoOpenBranch
	}
	return f.slots[len(f.slots)-1], nil
}

// OpenedAt returns the declaration position of the BranchOpen that started the current
// (or last) branch.
func (f *Frame[T]) OpenedAt() int {
	if len(f.openedAt) == 0 {
		return f.Position
	}
	return f.openedAt[len(f.openedAt)-1]
}

// Slots returns the shape slots of all branches, in declaration order.
func (f *Frame[T]) Slots() []int {
	out := make([]int, len(f.slots))
	copy(out, f.slots)
	return out
}

// Chains returns the accumulated chains, one per branch, in declaration order.
func (f *Frame[T]) Chains() [][]T {
	return f.chains
}

// StartBranch begins a new, empty chain bound to slot. Slots must be strictly increasing.
func (f *Frame[T]) StartBranch(position, slot int) error {
	if f.branchSet {
		return fmt.Errorf("%w: started at position %d", ErrBranchOpen, f.OpenedAt())
	}
	if n := len(f.slots); n > 0 && slot <= f.slots[n-1] {
		return fmt.Errorf("%w: slot %d after slot %d", ErrSlotMismatch, slot, f.slots[n-1])
	}
	f.slots = append(f.slots, slot)
	f.openedAt = append(f.openedAt, position)
	f.chains = append(f.chains, nil)
	f.branchSet = true
	return nil
}

// EndBranch finalizes the open branch's chain.
func (f *Frame[T]) EndBranch() error {
	if !f.branchSet {
		return ErrNoOpenBranch
	}
	f.branchSet = false
	return nil
}

// Append adds t to the open branch's chain.
func (f *Frame[T]) Append(t T) error {
	if !f.branchSet {
		return ErrNoOpenBranch
	}
	last := len(f.chains) - 1
	f.chains[last] = append(f.chains[last], t)
	return nil
}

// Stack is the ordered stack of open frames, innermost last.
type Stack[T any] struct {
	frames []*Frame[T]
}

// NewStack creates an empty Stack.
func NewStack[T any]() *Stack[T] {
	return &Stack[T]{}
}

// Depth returns the number of open frames.
func (s *Stack[T]) Depth() int {
	return len(s.frames)
}

// Top returns the innermost frame, or nil when no frame is open.
func (s *Stack[T]) Top() *Frame[T] {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Push opens a new frame forking from shape slot base.
//
// A frame may only be pushed from the trunk or from inside an open branch of the
// enclosing frame.
func (s *Stack[T]) Push(position, base int) (*Frame[T], error) {
	if top := s.Top(); top != nil && !top.BranchOpen() {
		return nil, fmt.Errorf("%w: enclosing group at position %d has no open branch", errInvalidOrigin, top.Position)
	}
	f := &Frame[T]{Position: position, Base: base}
	s.frames = append(s.frames, f)
	return f, nil
}

// Pop removes and returns the innermost frame. The frame must have at least one
// branch and no open branch.
func (s *Stack[T]) Pop() (*Frame[T], error) {
	top := s.Top()
	if top == nil {
		return nil, ErrEmpty
	}
	if top.BranchOpen() {
		return nil, fmt.Errorf("%w: started at position %d", ErrBranchOpen, top.OpenedAt())
	}
	if top.Len() == 0 {
		return nil, ErrNoBranches
	}
	s.frames = s.frames[:len(s.frames)-1]
	return top, nil
}
