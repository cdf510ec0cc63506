package layers

import (
	"fmt"

	"github.com/born-ml/born/tensor"

	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/shape"
)

// Flatten collapses every non-batch axis: [batch, d1, ..., dn] -> [batch, d1*...*dn].
func Flatten[B tensor.Backend]() *layer.Spec[B] {
	return layer.New[B](flatten[B]{})
}

type flatten[B tensor.Backend] struct{}

func (flatten[B]) Describe() string { return "Flatten" }

func (flatten[B]) Build(_ *layer.Scope[B], in tensor.Shape) (layer.Built[B], error) {
	if err := shape.ExpectMinRank(in, 2); err != nil {
		return layer.Built[B]{}, err
	}
	for axis := 1; axis < len(in); axis++ {
		if err := shape.ExpectDim(in, axis); err != nil {
			return layer.Built[B]{}, err
		}
	}
	features := shape.Features(in[1:])
	return layer.Built[B]{
		Out: tensor.Shape{in[0], features},
		Transform: func(_ *layer.Execution, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
			return x.Reshape(x.Shape()[0], features)
		},
	}, nil
}

// Reshape reshapes the non-batch axes to dims. The element count must not change.
func Reshape[B tensor.Backend](dims ...int) *layer.Spec[B] {
	return layer.New[B](&reshape[B]{dims: append([]int(nil), dims...)})
}

type reshape[B tensor.Backend] struct {
	dims []int
}

func (r *reshape[B]) Describe() string {
	return fmt.Sprintf("Reshape(%s)", shape.String(r.dims))
}

func (r *reshape[B]) Build(_ *layer.Scope[B], in tensor.Shape) (layer.Built[B], error) {
	if len(r.dims) == 0 {
		return layer.Built[B]{}, fmt.Errorf("reshape: no target dimensions")
	}
	for _, d := range r.dims {
		if d <= 0 {
			return layer.Built[B]{}, fmt.Errorf("reshape: invalid dimension %d", d)
		}
	}
	if err := shape.ExpectMinRank(in, 2); err != nil {
		return layer.Built[B]{}, err
	}
	for axis := 1; axis < len(in); axis++ {
		if err := shape.ExpectDim(in, axis); err != nil {
			return layer.Built[B]{}, err
		}
	}
	want := shape.Features(r.dims)
	if got := shape.Features(in[1:]); got != want {
		return layer.Built[B]{}, shape.Errorf(in, "cannot reshape %d features into %s", got, shape.String(r.dims))
	}

	out := append(tensor.Shape{in[0]}, r.dims...)
	dims := append([]int(nil), r.dims...)
	return layer.Built[B]{
		Out: out,
		Transform: func(_ *layer.Execution, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
			return x.Reshape(append([]int{x.Shape()[0]}, dims...)...)
		},
	}, nil
}
