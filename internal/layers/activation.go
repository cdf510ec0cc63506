package layers

import (
	"fmt"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/shape"
)

type activationFunc[B tensor.Backend] func(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

func activations[B tensor.Backend]() map[string]activationFunc[B] {
	return map[string]activationFunc[B]{
		"relu":    nn.ReLUFunc[B],
		"sigmoid": nn.SigmoidFunc[B],
		"tanh":    nn.NewTanh[B]().Forward,
		"silu":    nn.SiLUFunc[B],
		"gelu":    nn.GELUFunc[B],
		"softmax": func(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
			return x.Softmax(-1)
		},
	}
}

// Activations lists the supported activation names.
func Activations() []string {
	return []string{"gelu", "relu", "sigmoid", "silu", "softmax", "tanh"}
}

// Activation returns an element-wise activation layer (softmax acts on the last axis).
// Supported names: relu, sigmoid, tanh, silu, gelu, softmax.
func Activation[B tensor.Backend](name string) *layer.Spec[B] {
	return layer.New[B](&activation[B]{name: strings.ToLower(name)})
}

type activation[B tensor.Backend] struct {
	name string
}

func (a *activation[B]) Describe() string {
	return fmt.Sprintf("Activation(%s)", a.name)
}

func (a *activation[B]) Build(_ *layer.Scope[B], in tensor.Shape) (layer.Built[B], error) {
	fn, ok := activations[B]()[a.name]
	if !ok {
		return layer.Built[B]{}, fmt.Errorf("unknown activation %q (supported: %s)",
			a.name, strings.Join(Activations(), ", "))
	}
	if a.name == "softmax" {
		if err := shape.ExpectMinRank(in, 2); err != nil {
			return layer.Built[B]{}, err
		}
	}
	return layer.Built[B]{
		Out: in.Clone(),
		Transform: func(_ *layer.Execution, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
			return fn(x)
		},
	}, nil
}
