package layers

import (
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/shape"
)

// Dropout zeroes each element with probability rate during training and scales the
// survivors by 1/(1-rate). It is the identity at inference time.
func Dropout[B tensor.Backend](rate float64) *layer.Spec[B] {
	return layer.New[B](&dropout[B]{rate: rate})
}

type dropout[B tensor.Backend] struct {
	rate float64
}

func (d *dropout[B]) Describe() string {
	return fmt.Sprintf("Dropout(rate=%g)", d.rate)
}

func (d *dropout[B]) Build(scope *layer.Scope[B], in tensor.Shape) (layer.Built[B], error) {
	if d.rate < 0 || d.rate >= 1 {
		return layer.Built[B]{}, fmt.Errorf("dropout: rate must be in [0, 1), got %g", d.rate)
	}
	backend := scope.Backend()
	rate := float32(d.rate)
	keep := 1 / (1 - rate)
	return layer.Built[B]{
		Out: in.Clone(),
		Transform: func(exec *layer.Execution, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
			if !exec.Training() || rate == 0 {
				return x
			}
			mask := make([]float32, x.NumElements())
			for i := range mask {
				if exec.Float32() >= rate {
					mask[i] = keep
				}
			}
			m, err := tensor.FromSlice(mask, x.Shape(), backend)
			if err != nil {
				panic(fmt.Sprintf("dropout: %v", err))
			}
			return x.Mul(m)
		},
	}, nil
}

// LayerNorm normalizes over the last axis with a learned scale and shift.
func LayerNorm[B tensor.Backend](epsilon float32) *layer.Spec[B] {
	return layer.New[B](&layerNorm[B]{epsilon: epsilon})
}

type layerNorm[B tensor.Backend] struct {
	epsilon float32
}

func (l *layerNorm[B]) Describe() string {
	return fmt.Sprintf("LayerNorm(eps=%g)", l.epsilon)
}

func (l *layerNorm[B]) Build(scope *layer.Scope[B], in tensor.Shape) (layer.Built[B], error) {
	if l.epsilon <= 0 {
		return layer.Built[B]{}, fmt.Errorf("layernorm: epsilon must be positive, got %g", l.epsilon)
	}
	if err := shape.ExpectMinRank(in, 2); err != nil {
		return layer.Built[B]{}, err
	}
	last := len(in) - 1
	if err := shape.ExpectDim(in, last); err != nil {
		return layer.Built[B]{}, err
	}

	norm := nn.NewLayerNorm(in[last], l.epsilon, scope.Backend())
	norm.Gamma = nn.NewParameter(scope.Name("gamma"), norm.Gamma.Tensor())
	norm.Beta = nn.NewParameter(scope.Name("beta"), norm.Beta.Tensor())
	return layer.Built[B]{
		Out:    in.Clone(),
		Params: []*nn.Parameter[B]{norm.Gamma, norm.Beta},
		Transform: func(_ *layer.Execution, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
			return norm.Forward(x)
		},
	}, nil
}
