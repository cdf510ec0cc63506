package model

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/lattice/internal/checkpoint"
	"github.com/born-ml/lattice/internal/compiler"
	"github.com/born-ml/lattice/internal/data"
	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/layers"
	"github.com/born-ml/lattice/internal/shape"
)

type Backend = *cpu.Backend

// fakeEngine hands out a constant gradient for every parameter except skip.
type fakeEngine struct {
	backend Backend
	graph   *compiler.Graph[Backend]
	skip    string
	panics  bool

	started, stopped, cleared int
}

func (e *fakeEngine) Backend() Backend { return e.backend }
func (e *fakeEngine) StartRecording()  { e.started++ }
func (e *fakeEngine) StopRecording()   { e.stopped++ }
func (e *fakeEngine) Clear()           { e.cleared++ }

func (e *fakeEngine) Gradients(*tensor.Tensor[float32, Backend]) map[*tensor.RawTensor]*tensor.RawTensor {
	if e.panics {
		panic("backend exploded")
	}
	grads := make(map[*tensor.RawTensor]*tensor.RawTensor)
	for _, p := range e.graph.Parameters() {
		if p.Name() == e.skip {
			continue
		}
		grads[p.Tensor().Raw()] = tensor.Full[float32](p.Tensor().Shape(), 0.5, e.backend).Raw()
	}
	return grads
}

// fakeOptimizer records the gradient it was given for each parameter, in order.
type fakeOptimizer struct {
	graph     *compiler.Graph[Backend]
	steps     [][]float32
	zeroGrads int
}

func (o *fakeOptimizer) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	var firsts []float32
	for _, p := range o.graph.Parameters() {
		g, ok := grads[p.Tensor().Raw()]
		if !ok {
			firsts = append(firsts, -1)
			continue
		}
		firsts = append(firsts, g.AsFloat32()[0])
	}
	o.steps = append(o.steps, firsts)
}

func (o *fakeOptimizer) ZeroGrad()       { o.zeroGrads++ }
func (o *fakeOptimizer) GetLR() float32 { return 0.01 }
func (o *fakeOptimizer) StateDict() map[string]*tensor.RawTensor {
	return nil
}
func (o *fakeOptimizer) LoadStateDict(map[string]*tensor.RawTensor) error { return nil }

func twoBranch(t *testing.T) *compiler.Graph[Backend] {
	t.Helper()
	g, err := compiler.Compile(cpu.New(), []*layer.Spec[Backend]{
		layer.Open[Backend](),
		layers.Dense[Backend](3),
		layer.Close[Backend](),
		layer.Open[Backend](),
		layers.Dense[Backend](6),
		layer.Close[Backend](),
		layers.Concat[Backend](1),
	}, tensor.Shape{shape.Batch, 4})
	require.NoError(t, err)
	return g
}

func samples(t *testing.T, backend Backend, n, in, out int) (*tensor.Tensor[float32, Backend], *tensor.Tensor[float32, Backend]) {
	t.Helper()
	x := make([]float32, n*in)
	for i := range x {
		x[i] = float32(i%7) / 7
	}
	xt, err := tensor.FromSlice(x, tensor.Shape{n, in}, backend)
	require.NoError(t, err)
	yt, err := tensor.FromSlice(make([]float32, n*out), tensor.Shape{n, out}, backend)
	require.NoError(t, err)
	return xt, yt
}

func newFake(t *testing.T, opts Options) (*Model[Backend], *fakeEngine, *fakeOptimizer) {
	t.Helper()
	g := twoBranch(t)
	engine := &fakeEngine{backend: g.Backend(), graph: g}
	opt := &fakeOptimizer{graph: g}
	m, err := New[Backend](context.Background(), g, MSE[Backend]{}, opt, engine, opts)
	require.NoError(t, err)
	return m, engine, opt
}

func TestFit_StepsEveryParameterInOrder(t *testing.T) {
	m, engine, opt := newFake(t, Options{BatchSize: 4})
	engine.skip = "4.bias"

	var epochs, batches int
	m.opts.OnEpoch = func(EpochStats) { epochs++ }
	m.opts.OnBatch = func(BatchStats) { batches++ }

	x, y := samples(t, m.Graph().Backend(), 10, 4, 9)
	history, err := m.Fit(context.Background(), x, y, 2)
	require.NoError(t, err)

	require.Len(t, history.Epochs, 2)
	assert.Equal(t, 2, history.Final().Epoch)
	assert.Equal(t, float32(0.01), history.Final().LearningRate)
	assert.Equal(t, 2, m.Epoch())
	assert.Equal(t, 2, epochs)
	assert.Equal(t, 6, batches)

	// 3 batches per epoch.
	require.Len(t, opt.steps, 6)
	assert.Equal(t, 6, opt.zeroGrads)
	assert.Equal(t, 6, engine.started)
	assert.Equal(t, 6, engine.cleared)
	for _, step := range opt.steps {
		// 1.weight, 1.bias, 4.weight, 4.bias; the skipped one is zero-filled.
		assert.Equal(t, []float32{0.5, 0.5, 0.5, 0}, step)
	}
}

func TestFit_Cancelled(t *testing.T) {
	m, _, opt := newFake(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	x, y := samples(t, m.Graph().Backend(), 4, 4, 9)
	history, err := m.Fit(ctx, x, y, 3)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, history.Epochs)
	assert.Empty(t, opt.steps)
}

func TestFit_EnginePanic(t *testing.T) {
	m, engine, opt := newFake(t, Options{})
	engine.panics = true

	x, y := samples(t, m.Graph().Backend(), 4, 4, 9)
	_, err := m.Fit(context.Background(), x, y, 1)

	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "fit", ee.Op)
	assert.Equal(t, 1, ee.Epoch)
	assert.Equal(t, "backend exploded", ee.Panic)
	assert.Contains(t, err.Error(), "fit epoch 1 batch 0: engine panic: backend exploded")
	assert.Empty(t, opt.steps)
	assert.Equal(t, 1, engine.cleared)
}

func TestFit_LossError(t *testing.T) {
	m, _, _ := newFake(t, Options{})
	x, y := samples(t, m.Graph().Backend(), 4, 4, 2)

	_, err := m.Fit(context.Background(), x, y, 1)
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.ErrorContains(t, err, "differ in shape")
}

func TestFit_InvalidArguments(t *testing.T) {
	m, _, _ := newFake(t, Options{})
	backend := m.Graph().Backend()

	x, y := samples(t, backend, 4, 4, 9)
	_, err := m.Fit(context.Background(), x, y, 0)
	assert.ErrorContains(t, err, "epochs must be positive")

	x, y = samples(t, backend, 4, 5, 9)
	_, err = m.Fit(context.Background(), x, y, 1)
	assert.ErrorContains(t, err, "does not match declared")
}

func TestEvalAndPredict(t *testing.T) {
	m, engine, _ := newFake(t, Options{BatchSize: 3})
	x, y := samples(t, m.Graph().Backend(), 5, 4, 9)

	loss, err := m.Eval(x, y)
	require.NoError(t, err)
	assert.Greater(t, loss, float32(0))
	assert.Zero(t, engine.started)

	out, err := m.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{5, 9}, out.Shape())

	bad, _ := samples(t, m.Graph().Backend(), 5, 3, 9)
	_, err = m.Predict(bad)
	assert.Error(t, err)
}

// updateWatch flags forward passes that run while an optimizer update is in progress.
type updateWatch struct {
	updating atomic.Bool
	forwards atomic.Int64
	overlaps atomic.Int64
}

func (w *updateWatch) Describe() string { return "Watch" }

func (w *updateWatch) Build(_ *layer.Scope[Backend], in tensor.Shape) (layer.Built[Backend], error) {
	return layer.Built[Backend]{
		Out: in.Clone(),
		Transform: func(_ *layer.Execution, x *tensor.Tensor[float32, Backend]) *tensor.Tensor[float32, Backend] {
			w.forwards.Add(1)
			if w.updating.Load() {
				w.overlaps.Add(1)
			}
			return x
		},
	}, nil
}

// slowOptimizer holds each update open long enough for a concurrent read to land in it.
type slowOptimizer struct {
	watch *updateWatch
	steps atomic.Int64
}

func (o *slowOptimizer) Step(map[*tensor.RawTensor]*tensor.RawTensor) {
	o.watch.updating.Store(true)
	time.Sleep(200 * time.Microsecond)
	o.watch.updating.Store(false)
	o.steps.Add(1)
}

func (o *slowOptimizer) ZeroGrad()      {}
func (o *slowOptimizer) GetLR() float32 { return 0.01 }
func (o *slowOptimizer) StateDict() map[string]*tensor.RawTensor {
	return nil
}
func (o *slowOptimizer) LoadStateDict(map[string]*tensor.RawTensor) error { return nil }

func TestFit_UpdatesDoNotOverlapReads(t *testing.T) {
	watch := &updateWatch{}
	g, err := compiler.Compile(cpu.New(), []*layer.Spec[Backend]{
		layers.Dense[Backend](2),
		layer.New[Backend](watch),
	}, tensor.Shape{shape.Batch, 4})
	require.NoError(t, err)

	opt := &slowOptimizer{watch: watch}
	engine := &fakeEngine{backend: g.Backend(), graph: g}
	m, err := New[Backend](context.Background(), g, MSE[Backend]{}, opt, engine, Options{BatchSize: 2})
	require.NoError(t, err)
	x, y := samples(t, g.Backend(), 8, 4, 2)

	var (
		wg   sync.WaitGroup
		done atomic.Bool
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := m.Predict(x)
				assert.NoError(t, err)
				_, err = m.Eval(x, y)
				assert.NoError(t, err)
				if done.Load() {
					return
				}
			}
		}()
	}

	_, err = m.Fit(context.Background(), x, y, 25)
	done.Store(true)
	wg.Wait()
	require.NoError(t, err)

	assert.Equal(t, int64(100), opt.steps.Load())
	assert.Greater(t, watch.forwards.Load(), int64(100))
	assert.Zero(t, watch.overlaps.Load())
}

func TestNew_RestoreMissing(t *testing.T) {
	g := twoBranch(t)
	path := filepath.Join(t.TempDir(), "none.born")

	_, err := New[Backend](context.Background(), g, MSE[Backend]{}, &fakeOptimizer{graph: g},
		&fakeEngine{backend: g.Backend(), graph: g}, Options{CheckpointPath: path, Restore: true})
	require.ErrorIs(t, err, checkpoint.ErrNotFound)

	var ce *checkpoint.Error
	assert.True(t, errors.As(err, &ce))

	_, err = New[Backend](context.Background(), g, MSE[Backend]{}, &fakeOptimizer{graph: g},
		&fakeEngine{backend: g.Backend(), graph: g}, Options{Restore: true})
	assert.ErrorContains(t, err, "requires CheckpointPath")
}

func TestFit_CheckpointAndResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.born")
	m, _, _ := newFake(t, Options{CheckpointPath: path, CheckpointEvery: 1})

	x, y := samples(t, m.Graph().Backend(), 4, 4, 9)
	_, err := m.Fit(context.Background(), x, y, 2)
	require.NoError(t, err)

	g := twoBranch(t)
	resumed, err := New[Backend](context.Background(), g, MSE[Backend]{}, &fakeOptimizer{graph: g},
		&fakeEngine{backend: g.Backend(), graph: g}, Options{CheckpointPath: path, Restore: true})
	require.NoError(t, err)
	assert.Equal(t, 2, resumed.Epoch())
	assert.Equal(t, m.RunID(), resumed.RunID())

	want, got := m.Graph().Parameters(), g.Parameters()
	for i := range want {
		assert.Equal(t, want[i].Tensor().Data(), got[i].Tensor().Data())
	}

	history, err := resumed.Fit(context.Background(), x, y, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, history.Final().Epoch)
}

func TestLosses(t *testing.T) {
	backend := cpu.New()
	pred, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{4, 1}, backend)
	require.NoError(t, err)
	target, err := tensor.FromSlice([]float32{1, 0, 3, 2}, tensor.Shape{4}, backend)
	require.NoError(t, err)

	loss, err := MSE[Backend]{}.Compute(pred, target)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, loss.Data()[0], 1e-6)

	logits, err := tensor.FromSlice([]float32{10, 0, 0, 10}, tensor.Shape{2, 2}, backend)
	require.NoError(t, err)
	classes, err := tensor.FromSlice([]float32{0, 1}, tensor.Shape{2}, backend)
	require.NoError(t, err)
	loss, err = CrossEntropy[Backend]{}.Compute(logits, classes)
	require.NoError(t, err)
	assert.Less(t, loss.Data()[0], float32(0.01))

	bad, err := tensor.FromSlice([]float32{0, 2}, tensor.Shape{2}, backend)
	require.NoError(t, err)
	_, err = CrossEntropy[Backend]{}.Compute(logits, bad)
	assert.ErrorContains(t, err, "want a class index in [0, 2)")

	_, err = LossByName[Backend]("hinge")
	assert.Error(t, err)
}

func TestFit_LearnsXOR(t *testing.T) {
	type AD = *autodiff.Backend[*cpu.Backend]
	backend := autodiff.New(cpu.New())

	g, err := compiler.Compile(backend, []*layer.Spec[AD]{
		layers.Dense[AD](8),
		layers.Activation[AD]("tanh"),
		layers.Dense[AD](1),
	}, tensor.Shape{shape.Batch, 2})
	require.NoError(t, err)

	ds, err := data.XOR(64, 2, 3)
	require.NoError(t, err)
	x, y, err := data.Tensors(ds, backend)
	require.NoError(t, err)

	opt := optim.NewAdam(g.Parameters(), optim.AdamConfig{
		LR:    0.05,
		Betas: [2]float32{0.9, 0.999},
		Eps:   1e-8,
	}, backend)
	m, err := New[AD](context.Background(), g, MSE[AD]{}, opt, NewTapeEngine(backend), Options{Seed: 1})
	require.NoError(t, err)

	before, err := m.Eval(x, y)
	require.NoError(t, err)

	history, err := m.Fit(context.Background(), x, y, 150)
	require.NoError(t, err)

	after, err := m.Eval(x, y)
	require.NoError(t, err)
	assert.Less(t, after, before)
	assert.Less(t, history.Final().Loss, history.Epochs[0].Loss)
}
