package shape

import (
	"errors"
	"fmt"

	"github.com/born-ml/born/tensor"
)

// ErrSlot is returned when a slot index does not address a live slot,
// or when a multi-slot operation is given slots that are not the topmost ones.
var ErrSlot = errors.New("invalid shape slot")

// State is an ordered stack of shape slots.
//
// Slot 0 is the trunk and is never removed. Every live branch owns exactly one
// slot above it, so Depth() == 1 + number of live branches.
type State struct {
	slots []tensor.Shape
}

// NewState creates a State whose trunk slot holds in.
func NewState(in tensor.Shape) *State {
	return &State{slots: []tensor.Shape{in.Clone()}}
}

// Depth returns the number of live slots.
func (s *State) Depth() int {
	return len(s.slots)
}

// At returns a copy of slot i.
func (s *State) At(i int) tensor.Shape {
	return s.slots[i].Clone()
}

// Top returns the index of the topmost slot.
func (s *State) Top() int {
	return len(s.slots) - 1
}

// Advance replaces slot i with fn(slot i).
// On error the slot keeps its previous value.
func (s *State) Advance(i int, fn func(in tensor.Shape) (tensor.Shape, error)) error {
	if err := s.check(i); err != nil {
		return err
	}
	out, err := fn(s.slots[i].Clone())
	if err != nil {
		return err
	}
	s.slots[i] = out.Clone()
	return nil
}

// Open duplicates slot base into a new top slot and returns its index.
func (s *State) Open(base int) (int, error) {
	if err := s.check(base); err != nil {
		return -1, err
	}
	s.slots = append(s.slots, s.slots[base].Clone())
	return len(s.slots) - 1, nil
}

// Collapse merges the given slots into one.
//
// The indices must name the topmost len(indices) slots in ascending order, which is
// how branches of the innermost group are laid out. fn receives their shapes in that
// order. On success the slots are replaced by a single slot holding fn's result and
// its index is returned; depth decreases by len(indices)-1.
func (s *State) Collapse(indices []int, fn func(in []tensor.Shape) (tensor.Shape, error)) (int, error) {
	if len(indices) == 0 {
		return -1, fmt.Errorf("%w: no slots to collapse", ErrSlot)
	}
	first := len(s.slots) - len(indices)
	if first < 1 {
		return -1, fmt.Errorf("%w: cannot collapse %d slots of %d", ErrSlot, len(indices), len(s.slots))
	}
	in := make([]tensor.Shape, len(indices))
	for k, i := range indices {
		if i != first+k {
			return -1, fmt.Errorf("%w: slot %d is not in the topmost group", ErrSlot, i)
		}
		in[k] = s.slots[i].Clone()
	}
	out, err := fn(in)
	if err != nil {
		return -1, err
	}
	s.slots = append(s.slots[:first], out.Clone())
	return first, nil
}

// Fold writes slot from into slot into and drops from, which must be the top slot.
func (s *State) Fold(from, into int) error {
	if err := s.check(into); err != nil {
		return err
	}
	if from != s.Top() || from == 0 || from == into {
		return fmt.Errorf("%w: cannot fold slot %d into %d", ErrSlot, from, into)
	}
	s.slots[into] = s.slots[from]
	s.slots = s.slots[:from]
	return nil
}

func (s *State) check(i int) error {
	if i < 0 || i >= len(s.slots) {
		return fmt.Errorf("%w: %d (depth %d)", ErrSlot, i, len(s.slots))
	}
	return nil
}
