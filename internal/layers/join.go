package layers

import (
	"fmt"

	"github.com/born-ml/born/tensor"

	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/shape"
)

// Concat joins any number of branches by concatenating along axis.
// Axis 0 is the batch axis and cannot be concatenated; negative axes count from the end.
func Concat[B tensor.Backend](axis int) *layer.Spec[B] {
	return layer.NewJoin[B](&concat[B]{axis: axis})
}

type concat[B tensor.Backend] struct {
	axis int
}

func (c *concat[B]) Describe() string { return fmt.Sprintf("Concat(axis=%d)", c.axis) }

func (c *concat[B]) Arity() int { return 0 }

func (c *concat[B]) BuildJoin(_ *layer.Scope[B], in []tensor.Shape) (layer.BuiltJoin[B], error) {
	if len(in) == 0 {
		return layer.BuiltJoin[B]{}, fmt.Errorf("concat: no branches")
	}
	rank := len(in[0])
	axis := c.axis
	if axis < 0 {
		axis += rank
	}
	if axis < 1 || axis >= rank {
		return layer.BuiltJoin[B]{}, shape.Errorf(in[0], "concat axis %d out of range for rank %d", c.axis, rank)
	}

	out := in[0].Clone()
	out[axis] = 0
	for k, s := range in {
		if len(s) != rank {
			return layer.BuiltJoin[B]{}, shape.Errorf(s, "branch %d has rank %d, branch 0 has rank %d", k, len(s), rank)
		}
		if err := shape.ExpectDim(s, axis); err != nil {
			return layer.BuiltJoin[B]{}, err
		}
		for d := range s {
			if d != axis && s[d] != in[0][d] {
				return layer.BuiltJoin[B]{}, shape.Errorf(s, "branch %d differs from branch 0 %s on axis %d", k, shape.String(in[0]), d)
			}
		}
		out[axis] += s[axis]
	}

	return layer.BuiltJoin[B]{
		Out: out,
		Merge: func(_ *layer.Execution, xs []*tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
			if len(xs) == 1 {
				return xs[0]
			}
			return tensor.Cat(xs, axis)
		},
	}, nil
}

// elementwise is a join over branches of identical shape.
type elementwise[B tensor.Backend] struct {
	name  string
	merge func(backend B, xs []*tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]
}

func (e *elementwise[B]) Describe() string { return e.name }

func (e *elementwise[B]) Arity() int { return 0 }

func (e *elementwise[B]) BuildJoin(scope *layer.Scope[B], in []tensor.Shape) (layer.BuiltJoin[B], error) {
	if len(in) == 0 {
		return layer.BuiltJoin[B]{}, fmt.Errorf("%s: no branches", e.name)
	}
	for k, s := range in[1:] {
		if !shape.Equal(s, in[0]) {
			return layer.BuiltJoin[B]{}, shape.Errorf(s, "branch %d does not match branch 0 %s", k+1, shape.String(in[0]))
		}
	}
	backend := scope.Backend()
	merge := e.merge
	return layer.BuiltJoin[B]{
		Out: in[0].Clone(),
		Merge: func(_ *layer.Execution, xs []*tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
			return merge(backend, xs)
		},
	}, nil
}

// Add joins branches of identical shape by element-wise sum.
func Add[B tensor.Backend]() *layer.Spec[B] {
	return layer.NewJoin[B](&elementwise[B]{name: "Add", merge: sum[B]})
}

// Mean joins branches of identical shape by element-wise average.
func Mean[B tensor.Backend]() *layer.Spec[B] {
	return layer.NewJoin[B](&elementwise[B]{
		name: "Mean",
		merge: func(backend B, xs []*tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
			y := sum(backend, xs)
			if len(xs) == 1 {
				return y
			}
			return y.Mul(tensor.Full(y.Shape(), 1/float32(len(xs)), backend))
		},
	})
}

// Multiply joins branches of identical shape by element-wise product.
func Multiply[B tensor.Backend]() *layer.Spec[B] {
	return layer.NewJoin[B](&elementwise[B]{
		name: "Multiply",
		merge: func(_ B, xs []*tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
			y := xs[0]
			for _, x := range xs[1:] {
				y = y.Mul(x)
			}
			return y
		},
	})
}

// WithArity wraps a join so it requires exactly n branches.
func WithArity[B tensor.Backend](s *layer.Spec[B], n int) *layer.Spec[B] {
	j := s.Joiner()
	if j == nil {
		return s
	}
	return layer.NewJoin[B](&fixedArity[B]{Joiner: j, n: n})
}

type fixedArity[B tensor.Backend] struct {
	layer.Joiner[B]
	n int
}

func (f *fixedArity[B]) Describe() string {
	return fmt.Sprintf("%s[%d]", f.Joiner.Describe(), f.n)
}

func (f *fixedArity[B]) Arity() int { return f.n }

func sum[B tensor.Backend](_ B, xs []*tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	y := xs[0]
	for _, x := range xs[1:] {
		y = y.Add(x)
	}
	return y
}
