package layers

import (
	"testing"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/shape"
)

type Backend = *autodiff.Backend[*cpu.Backend]

func newScope() *layer.Scope[Backend] {
	return layer.NewScope(autodiff.New(cpu.New()))
}

func mustTensor(t *testing.T, scope *layer.Scope[Backend], data []float32, s tensor.Shape) *tensor.Tensor[float32, Backend] {
	t.Helper()
	x, err := tensor.FromSlice(data, s, scope.Backend())
	require.NoError(t, err)
	return x
}

func TestDense_Build(t *testing.T) {
	scope := newScope()
	spec := Dense[Backend](10)

	b, err := spec.Build(scope.At(0), tensor.Shape{shape.Batch, 5})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{shape.Batch, 10}, b.Out)
	require.Len(t, b.Params, 2)
	assert.Equal(t, "0.weight", b.Params[0].Name())
	assert.Equal(t, "0.bias", b.Params[1].Name())
	assert.Equal(t, tensor.Shape{10, 5}, b.Params[0].Tensor().Shape())
	assert.Equal(t, tensor.Shape{10}, b.Params[1].Tensor().Shape())
	assert.Equal(t, "Dense(units=10)", spec.Describe())
}

func TestDense_Forward(t *testing.T) {
	scope := newScope()
	b, err := Dense[Backend](2).Build(scope.At(0), tensor.Shape{shape.Batch, 3})
	require.NoError(t, err)

	// W = [[1,0,0],[0,1,1]], bias = [0.5, -1]
	copy(b.Params[0].Tensor().Data(), []float32{1, 0, 0, 0, 1, 1})
	copy(b.Params[1].Tensor().Data(), []float32{0.5, -1})

	x := mustTensor(t, scope, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	y := b.Transform(layer.Inference(), x)

	assert.Equal(t, tensor.Shape{2, 2}, y.Shape())
	assert.InDeltaSlice(t, []float32{1.5, 4, 4.5, 10}, y.Data(), 1e-5)
}

func TestDense_Errors(t *testing.T) {
	scope := newScope()

	_, err := Dense[Backend](4).Build(scope, tensor.Shape{shape.Batch, 2, 3})
	var se *shape.Error
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Reason, "expected rank 2")

	_, err = Dense[Backend](0).Build(scope, tensor.Shape{shape.Batch, 3})
	assert.ErrorContains(t, err, "units must be positive")

	_, err = Dense[Backend](4).Build(scope, tensor.Shape{shape.Batch, shape.Batch})
	require.ErrorAs(t, err, &se)
}

func TestDenseNoBias(t *testing.T) {
	b, err := DenseNoBias[Backend](3).Build(newScope().At(2), tensor.Shape{shape.Batch, 4})
	require.NoError(t, err)
	require.Len(t, b.Params, 1)
	assert.Equal(t, "2.weight", b.Params[0].Name())
}

func TestConv2D_RejectsRank2(t *testing.T) {
	_, err := Conv2D[Backend](8, 3, 1, 0).Build(newScope(), tensor.Shape{shape.Batch, 100})
	var se *shape.Error
	require.ErrorAs(t, err, &se)
	assert.Contains(t, err.Error(), "expected rank 4, got rank 2")
}

func TestConv2D_OutputShape(t *testing.T) {
	tests := []struct {
		name                    string
		filters, k, stride, pad int
		in                      tensor.Shape
		want                    tensor.Shape
	}{
		{"valid", 8, 3, 1, 0, tensor.Shape{shape.Batch, 1, 28, 28}, tensor.Shape{shape.Batch, 8, 26, 26}},
		{"same", 4, 3, 1, 1, tensor.Shape{shape.Batch, 3, 8, 8}, tensor.Shape{shape.Batch, 4, 8, 8}},
		{"strided", 2, 2, 2, 0, tensor.Shape{shape.Batch, 1, 8, 8}, tensor.Shape{shape.Batch, 2, 4, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Conv2D[Backend](tt.filters, tt.k, tt.stride, tt.pad).Build(newScope().At(0), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Out)
			require.Len(t, b.Params, 2)
			assert.Equal(t, tensor.Shape{tt.filters, tt.in[1], tt.k, tt.k}, b.Params[0].Tensor().Shape())
		})
	}
}

func TestMaxPool2D(t *testing.T) {
	b, err := MaxPool2D[Backend](2, 2).Build(newScope(), tensor.Shape{shape.Batch, 8, 26, 26})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{shape.Batch, 8, 13, 13}, b.Out)
	assert.Empty(t, b.Params)

	_, err = MaxPool2D[Backend](4, 1).Build(newScope(), tensor.Shape{shape.Batch, 1, 2, 2})
	var se *shape.Error
	assert.ErrorAs(t, err, &se)
}

func TestFlattenAndReshape(t *testing.T) {
	scope := newScope()
	b, err := Flatten[Backend]().Build(scope, tensor.Shape{shape.Batch, 8, 5, 5})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{shape.Batch, 200}, b.Out)

	x := mustTensor(t, scope, make([]float32, 2*3*2*2), tensor.Shape{2, 3, 2, 2})
	b, err = Flatten[Backend]().Build(scope, tensor.Shape{shape.Batch, 3, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 12}, b.Transform(layer.Inference(), x).Shape())

	b, err = Reshape[Backend](3, 4).Build(scope, tensor.Shape{shape.Batch, 12})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{shape.Batch, 3, 4}, b.Out)

	_, err = Reshape[Backend](5, 5).Build(scope, tensor.Shape{shape.Batch, 12})
	var se *shape.Error
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Reason, "cannot reshape 12 features")
}

func TestActivation(t *testing.T) {
	scope := newScope()
	b, err := Activation[Backend]("ReLU").Build(scope, tensor.Shape{shape.Batch, 3})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{shape.Batch, 3}, b.Out)

	x := mustTensor(t, scope, []float32{-1, 0, 2}, tensor.Shape{1, 3})
	assert.Equal(t, []float32{0, 0, 2}, b.Transform(layer.Inference(), x).Data())

	_, err = Activation[Backend]("swish").Build(scope, tensor.Shape{shape.Batch, 3})
	assert.ErrorContains(t, err, `unknown activation "swish"`)
}

func TestDropout(t *testing.T) {
	scope := newScope()
	b, err := Dropout[Backend](0.5).Build(scope, tensor.Shape{shape.Batch, 1000})
	require.NoError(t, err)

	data := make([]float32, 1000)
	for i := range data {
		data[i] = 1
	}
	x := mustTensor(t, scope, data, tensor.Shape{1, 1000})

	assert.Same(t, x, b.Transform(layer.Inference(), x))

	y := b.Transform(layer.NewExecution(true, 42), x).Data()
	zeros := 0
	for _, v := range y {
		if v == 0 {
			zeros++
		} else {
			assert.InDelta(t, 2.0, v, 1e-6)
		}
	}
	assert.InDelta(t, 500, zeros, 100)
	// Input is untouched.
	assert.Equal(t, float32(1), x.Data()[0])

	_, err = Dropout[Backend](1).Build(scope, tensor.Shape{shape.Batch, 3})
	assert.Error(t, err)
}

func TestLayerNorm_Params(t *testing.T) {
	b, err := LayerNorm[Backend](1e-5).Build(newScope().At(4), tensor.Shape{shape.Batch, 6})
	require.NoError(t, err)
	require.Len(t, b.Params, 2)
	assert.Equal(t, "4.gamma", b.Params[0].Name())
	assert.Equal(t, "4.beta", b.Params[1].Name())
	assert.Equal(t, tensor.Shape{6}, b.Params[0].Tensor().Shape())
}
