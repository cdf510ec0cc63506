// Package shape implements the shape bookkeeping used while compiling a layer sequence.
//
// Shapes are Born tensor shapes ([]int). The dimension value Batch marks the dynamic
// batch axis, which is only known when the compiled graph runs:
//
//	in := tensor.Shape{shape.Batch, 5} // printed as [batch,5]
//
// State is the stack of "current output shape" slots threaded through compilation,
// one slot for the trunk plus one per live branch.
package shape

import (
	"strconv"
	"strings"

	"github.com/born-ml/born/tensor"
)

// Batch is the dimension value of the dynamic batch axis.
const Batch = -1

// String formats a shape as "[batch,5]".
func String(s tensor.Shape) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, d := range s {
		if i > 0 {
			sb.WriteByte(',')
		}
		if d == Batch {
			sb.WriteString("batch")
		} else {
			sb.WriteString(strconv.Itoa(d))
		}
	}
	sb.WriteByte(']')
	return sb.String()
}

// Equal reports whether two shapes have the same rank and dimensions.
// Batch only matches Batch.
func Equal(a, b tensor.Shape) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Features returns the product of all non-batch dimensions.
func Features(s tensor.Shape) int {
	n := 1
	for _, d := range s {
		if d == Batch {
			continue
		}
		n *= d
	}
	return n
}

// ExpectRank checks that s has exactly rank dimensions.
func ExpectRank(s tensor.Shape, rank int) error {
	if len(s) != rank {
		return Errorf(s, "expected rank %d, got rank %d", rank, len(s))
	}
	return nil
}

// ExpectMinRank checks that s has at least rank dimensions.
func ExpectMinRank(s tensor.Shape, rank int) error {
	if len(s) < rank {
		return Errorf(s, "expected rank >= %d, got rank %d", rank, len(s))
	}
	return nil
}

// ExpectDim checks that axis of s is statically known and positive.
func ExpectDim(s tensor.Shape, axis int) error {
	if axis < 0 || axis >= len(s) {
		return Errorf(s, "axis %d out of range for rank %d", axis, len(s))
	}
	if s[axis] <= 0 {
		return Errorf(s, "axis %d must have a known positive dimension", axis)
	}
	return nil
}

// Resolve turns a concrete runtime shape into its declared form by replacing
// the leading axis with Batch.
func Resolve(s tensor.Shape) tensor.Shape {
	out := s.Clone()
	if len(out) > 0 {
		out[0] = Batch
	}
	return out
}

// Matches reports whether a concrete runtime shape satisfies a declared shape.
func Matches(declared, actual tensor.Shape) bool {
	if len(declared) != len(actual) {
		return false
	}
	for i, d := range declared {
		if d != Batch && d != actual[i] {
			return false
		}
	}
	return true
}
