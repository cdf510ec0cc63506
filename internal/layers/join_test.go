package layers

import (
	"testing"

	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/shape"
)

func TestConcat_Shapes(t *testing.T) {
	b, err := Concat[Backend](1).BuildJoin(newScope(), []tensor.Shape{{shape.Batch, 3}, {shape.Batch, 6}})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{shape.Batch, 9}, b.Out)

	b, err = Concat[Backend](-1).BuildJoin(newScope(), []tensor.Shape{{shape.Batch, 2, 3}, {shape.Batch, 2, 1}})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{shape.Batch, 2, 4}, b.Out)
}

func TestConcat_Errors(t *testing.T) {
	var se *shape.Error

	_, err := Concat[Backend](0).BuildJoin(newScope(), []tensor.Shape{{shape.Batch, 3}, {shape.Batch, 6}})
	require.ErrorAs(t, err, &se)

	_, err = Concat[Backend](1).BuildJoin(newScope(), []tensor.Shape{{shape.Batch, 3}, {shape.Batch, 6, 1}})
	require.ErrorAs(t, err, &se)

	_, err = Concat[Backend](2).BuildJoin(newScope(), []tensor.Shape{{shape.Batch, 3, 1}, {shape.Batch, 4, 1}})
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Reason, "on axis 1")
}

func TestConcat_Forward(t *testing.T) {
	scope := newScope()
	b, err := Concat[Backend](1).BuildJoin(scope, []tensor.Shape{{shape.Batch, 1}, {shape.Batch, 2}})
	require.NoError(t, err)

	a := mustTensor(t, scope, []float32{1, 2}, tensor.Shape{2, 1})
	c := mustTensor(t, scope, []float32{3, 4, 5, 6}, tensor.Shape{2, 2})
	y := b.Merge(layer.Inference(), []*tensor.Tensor[float32, Backend]{a, c})

	assert.Equal(t, tensor.Shape{2, 3}, y.Shape())
	assert.InDeltaSlice(t, []float32{1, 3, 4, 2, 5, 6}, y.Data(), 1e-6)
}

func TestConcat_GradientsReachEveryBranch(t *testing.T) {
	scope := newScope()
	backend := scope.Backend()
	b, err := Concat[Backend](1).BuildJoin(scope, []tensor.Shape{{shape.Batch, 1}, {shape.Batch, 2}})
	require.NoError(t, err)

	a := mustTensor(t, scope, []float32{1, 2}, tensor.Shape{2, 1})
	c := mustTensor(t, scope, []float32{3, 4, 5, 6}, tensor.Shape{2, 2})
	w := mustTensor(t, scope, []float32{1, 2, 3}, tensor.Shape{3, 1})

	tape := backend.Tape()
	tape.StartRecording()
	y := b.Merge(layer.NewExecution(true, 1), []*tensor.Tensor[float32, Backend]{a, c}).MatMul(w)
	tape.StopRecording()
	grads := tape.Backward(tensor.Ones[float32](y.Shape(), backend).Raw(), backend)
	tape.Clear()

	require.Contains(t, grads, a.Raw())
	require.Contains(t, grads, c.Raw())
	assert.InDeltaSlice(t, []float32{1, 1}, grads[a.Raw()].AsFloat32(), 1e-6)
	assert.InDeltaSlice(t, []float32{2, 3, 2, 3}, grads[c.Raw()].AsFloat32(), 1e-6)
}

func TestConcat_SingleBranchPassesThrough(t *testing.T) {
	scope := newScope()
	b, err := Concat[Backend](1).BuildJoin(scope, []tensor.Shape{{shape.Batch, 2}})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{shape.Batch, 2}, b.Out)

	a := mustTensor(t, scope, []float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	assert.Same(t, a, b.Merge(layer.Inference(), []*tensor.Tensor[float32, Backend]{a}))
}

func TestElementwiseJoins(t *testing.T) {
	scope := newScope()
	in := []tensor.Shape{{shape.Batch, 2}, {shape.Batch, 2}}

	tests := []struct {
		name string
		spec *layer.Spec[Backend]
		want []float32
	}{
		{"add", Add[Backend](), []float32{4, 6}},
		{"mean", Mean[Backend](), []float32{2, 3}},
		{"multiply", Multiply[Backend](), []float32{3, 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 0, tt.spec.Joiner().Arity())
			b, err := tt.spec.BuildJoin(scope, in)
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{shape.Batch, 2}, b.Out)

			x := mustTensor(t, scope, []float32{1, 2}, tensor.Shape{1, 2})
			z := mustTensor(t, scope, []float32{3, 4}, tensor.Shape{1, 2})
			y := b.Merge(layer.Inference(), []*tensor.Tensor[float32, Backend]{x, z})
			assert.InDeltaSlice(t, tt.want, y.Data(), 1e-6)
		})
	}
}

func TestElementwise_ShapeMismatch(t *testing.T) {
	_, err := Add[Backend]().BuildJoin(newScope(), []tensor.Shape{{shape.Batch, 2}, {shape.Batch, 3}})
	var se *shape.Error
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Reason, "branch 1 does not match")
}

func TestWithArity(t *testing.T) {
	s := WithArity(Add[Backend](), 2)
	assert.True(t, s.IsJoin())
	assert.Equal(t, 2, s.Joiner().Arity())
	assert.Equal(t, "Add[2]", s.Describe())

	plain := Flatten[Backend]()
	assert.Same(t, plain, WithArity(plain, 2))
}
