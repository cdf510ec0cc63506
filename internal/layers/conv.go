package layers

import (
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/shape"
)

// Conv2D returns a 2D convolution over [batch, channels, height, width] inputs with a
// square kernel.
func Conv2D[B tensor.Backend](filters, kernel, stride, padding int) *layer.Spec[B] {
	return layer.New[B](&conv2D[B]{filters: filters, kernel: kernel, stride: stride, padding: padding, bias: true})
}

type conv2D[B tensor.Backend] struct {
	filters, kernel int
	stride, padding int
	bias            bool
}

func (c *conv2D[B]) Describe() string {
	return fmt.Sprintf("Conv2D(filters=%d, kernel=%d, stride=%d, padding=%d)",
		c.filters, c.kernel, c.stride, c.padding)
}

func (c *conv2D[B]) Build(scope *layer.Scope[B], in tensor.Shape) (layer.Built[B], error) {
	switch {
	case c.filters <= 0:
		return layer.Built[B]{}, fmt.Errorf("conv2d: invalid filters %d", c.filters)
	case c.kernel <= 0:
		return layer.Built[B]{}, fmt.Errorf("conv2d: invalid kernel size %d", c.kernel)
	case c.stride <= 0:
		return layer.Built[B]{}, fmt.Errorf("conv2d: invalid stride %d", c.stride)
	case c.padding < 0:
		return layer.Built[B]{}, fmt.Errorf("conv2d: invalid padding %d", c.padding)
	}
	if err := shape.ExpectRank(in, 4); err != nil {
		return layer.Built[B]{}, err
	}
	for axis := 1; axis < 4; axis++ {
		if err := shape.ExpectDim(in, axis); err != nil {
			return layer.Built[B]{}, err
		}
	}
	channels := in[1]
	outH := (in[2]+2*c.padding-c.kernel)/c.stride + 1
	outW := (in[3]+2*c.padding-c.kernel)/c.stride + 1
	if outH <= 0 || outW <= 0 {
		return layer.Built[B]{}, shape.Errorf(in, "kernel %d with padding %d does not fit the input", c.kernel, c.padding)
	}

	backend := scope.Backend()
	fanIn := channels * c.kernel * c.kernel
	fanOut := c.filters * c.kernel * c.kernel
	weight := nn.NewParameter(scope.Name("weight"),
		nn.Xavier(fanIn, fanOut, tensor.Shape{c.filters, channels, c.kernel, c.kernel}, backend))
	params := []*nn.Parameter[B]{weight}

	var bias *nn.Parameter[B]
	if c.bias {
		bias = nn.NewParameter(scope.Name("bias"), nn.Zeros(tensor.Shape{c.filters}, backend))
		params = append(params, bias)
	}

	filters, stride, padding := c.filters, c.stride, c.padding
	return layer.Built[B]{
		Out:    tensor.Shape{in[0], filters, outH, outW},
		Params: params,
		Transform: func(_ *layer.Execution, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
			raw := backend.Conv2D(x.Raw(), weight.Tensor().Raw(), stride, padding)
			out := tensor.New[float32, B](raw, backend)
			if bias != nil {
				out = out.Add(bias.Tensor().Reshape(1, filters, 1, 1))
			}
			return out
		},
	}, nil
}

// MaxPool2D returns a 2D max pooling layer over [batch, channels, height, width] inputs.
func MaxPool2D[B tensor.Backend](size, stride int) *layer.Spec[B] {
	return layer.New[B](&maxPool2D[B]{size: size, stride: stride})
}

type maxPool2D[B tensor.Backend] struct {
	size, stride int
}

func (m *maxPool2D[B]) Describe() string {
	return fmt.Sprintf("MaxPool2D(size=%d, stride=%d)", m.size, m.stride)
}

func (m *maxPool2D[B]) Build(scope *layer.Scope[B], in tensor.Shape) (layer.Built[B], error) {
	if m.size <= 0 || m.stride <= 0 {
		return layer.Built[B]{}, fmt.Errorf("maxpool2d: invalid size %d or stride %d", m.size, m.stride)
	}
	if err := shape.ExpectRank(in, 4); err != nil {
		return layer.Built[B]{}, err
	}
	for axis := 2; axis < 4; axis++ {
		if err := shape.ExpectDim(in, axis); err != nil {
			return layer.Built[B]{}, err
		}
	}
	outH := (in[2]-m.size)/m.stride + 1
	outW := (in[3]-m.size)/m.stride + 1
	if outH <= 0 || outW <= 0 {
		return layer.Built[B]{}, shape.Errorf(in, "pool size %d exceeds the input", m.size)
	}

	backend := scope.Backend()
	size, stride := m.size, m.stride
	return layer.Built[B]{
		Out: tensor.Shape{in[0], in[1], outH, outW},
		Transform: func(_ *layer.Execution, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
			return tensor.New[float32, B](backend.MaxPool2D(x.Raw(), size, stride), backend)
		},
	}, nil
}
