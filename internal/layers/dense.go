// Package layers is the bundled layer library: plain layers and joins that implement
// the layer.Layer and layer.Joiner build contracts on top of Born tensors.
//
// Every constructor returns a *layer.Spec ready to be placed in a sequence:
//
//	specs := []*layer.Spec[B]{
//	    layers.Dense[B](64), layers.Activation[B]("relu"), layers.Dense[B](10),
//	}
//
// Arguments are validated when the layer is built, so a bad argument surfaces as a
// compile error naming the layer's position.
package layers

import (
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/shape"
)

// Dense returns a fully connected layer: y = x @ W^T + b.
//
// Input [batch, in_features], output [batch, units]. Weights use Xavier
// initialization, biases start at zero.
func Dense[B tensor.Backend](units int) *layer.Spec[B] {
	return layer.New[B](&dense[B]{units: units, bias: true})
}

// DenseNoBias returns a Dense layer without bias.
func DenseNoBias[B tensor.Backend](units int) *layer.Spec[B] {
	return layer.New[B](&dense[B]{units: units})
}

type dense[B tensor.Backend] struct {
	units int
	bias  bool
}

func (d *dense[B]) Describe() string {
	if !d.bias {
		return fmt.Sprintf("Dense(units=%d, bias=false)", d.units)
	}
	return fmt.Sprintf("Dense(units=%d)", d.units)
}

func (d *dense[B]) Build(scope *layer.Scope[B], in tensor.Shape) (layer.Built[B], error) {
	if d.units <= 0 {
		return layer.Built[B]{}, fmt.Errorf("dense: units must be positive, got %d", d.units)
	}
	if err := shape.ExpectRank(in, 2); err != nil {
		return layer.Built[B]{}, err
	}
	if err := shape.ExpectDim(in, 1); err != nil {
		return layer.Built[B]{}, err
	}
	inFeatures, units := in[1], d.units
	backend := scope.Backend()

	// [units, in_features], same layout as nn.Linear.
	weight := nn.NewParameter(scope.Name("weight"),
		nn.Xavier(inFeatures, units, tensor.Shape{units, inFeatures}, backend))
	params := []*nn.Parameter[B]{weight}

	var bias *nn.Parameter[B]
	if d.bias {
		bias = nn.NewParameter(scope.Name("bias"), nn.Zeros(tensor.Shape{units}, backend))
		params = append(params, bias)
	}

	return layer.Built[B]{
		Out:    tensor.Shape{in[0], units},
		Params: params,
		Transform: func(_ *layer.Execution, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
			out := x.MatMul(weight.Tensor().Transpose())
			if bias != nil {
				out = out.Add(bias.Tensor().Reshape(1, units))
			}
			return out
		},
	}, nil
}
