// Package model binds a compiled graph to a loss, an optimizer and a checkpoint
// location, and drives training and evaluation through an Engine.
//
// Training runs batch by batch:
//
//	engine.StartRecording()
//	predictions := graph.Run(training, batch.Inputs)
//	loss := loss.Compute(predictions, batch.Targets)
//	optimizer.Step(engine.Gradients(loss))  // one gradient per parameter, declaration order
//	optimizer.ZeroGrad()
//	engine.Clear()
//
// A Model is safe for concurrent use: optimizer updates hold a write lock that Eval and
// Predict wait on, and concurrent Fit calls run one after another.
package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/born-ml/lattice/internal/checkpoint"
	"github.com/born-ml/lattice/internal/compiler"
	"github.com/born-ml/lattice/internal/data"
	"github.com/born-ml/lattice/internal/layer"
)

// Options configure a Model.
type Options struct {
	// CheckpointPath is a local path or gs://bucket/object URL. Empty disables
	// checkpointing.
	CheckpointPath string

	// Restore loads CheckpointPath when the model is created. A missing or
	// incompatible checkpoint fails New.
	Restore bool

	// CheckpointEvery saves a checkpoint every n epochs. Zero saves only when Fit
	// returns successfully.
	CheckpointEvery int

	BatchSize int // samples per batch; <= 0 uses the whole set
	Shuffle   bool
	Seed      uint64 // seeds shuffling and dropout

	OnEpoch func(EpochStats)
	OnBatch func(BatchStats)
}

// EpochStats summarizes one finished epoch.
type EpochStats struct {
	Epoch        int // 1-based, counted across restores
	Loss         float32
	Duration     time.Duration
	LearningRate float32
}

// BatchStats describes one finished batch.
type BatchStats struct {
	Epoch   int
	Batch   int
	Batches int
	Loss    float32
}

// History is what Fit returns.
type History struct {
	RunID  string
	Epochs []EpochStats
}

// Final returns the stats of the last epoch, or the zero value.
func (h *History) Final() EpochStats {
	if len(h.Epochs) == 0 {
		return EpochStats{}
	}
	return h.Epochs[len(h.Epochs)-1]
}

// Model is a trainable compiled graph.
type Model[B tensor.Backend] struct {
	graph     *compiler.Graph[B]
	loss      Loss[B]
	optimizer optim.Optimizer
	engine    Engine[B]
	opts      Options

	fitMu sync.Mutex
	mu    sync.RWMutex

	runID    string
	epoch    int
	step     int64
	lastLoss float32
}

// New creates a Model. The optimizer must have been created over graph.Parameters().
func New[B tensor.Backend](
	ctx context.Context,
	graph *compiler.Graph[B],
	loss Loss[B],
	optimizer optim.Optimizer,
	engine Engine[B],
	opts Options,
) (*Model[B], error) {
	if graph == nil || loss == nil || optimizer == nil || engine == nil {
		return nil, errors.New("model: graph, loss, optimizer and engine are required")
	}
	if opts.CheckpointEvery < 0 {
		return nil, fmt.Errorf("model: CheckpointEvery must not be negative, got %d", opts.CheckpointEvery)
	}
	m := &Model[B]{
		graph:     graph,
		loss:      loss,
		optimizer: optimizer,
		engine:    engine,
		opts:      opts,
		runID:     checkpoint.NewRunID(),
	}

	if opts.Restore {
		if opts.CheckpointPath == "" {
			return nil, errors.New("model: Restore requires CheckpointPath")
		}
		meta, err := checkpoint.Restore(ctx, opts.CheckpointPath, graph.Backend(), graph, optimizer)
		if err != nil {
			return nil, err
		}
		m.runID, m.epoch, m.step = meta.RunID, meta.Epoch, meta.Step
		klog.FromContext(ctx).Info("resuming from checkpoint", "path", opts.CheckpointPath, "run", meta.RunID, "epoch", meta.Epoch)
	}
	return m, nil
}

// Graph returns the compiled graph.
func (m *Model[B]) Graph() *compiler.Graph[B] { return m.graph }

// RunID identifies the training run; it survives checkpoint restores.
func (m *Model[B]) RunID() string { return m.runID }

// Epoch returns the number of completed epochs, including restored ones.
func (m *Model[B]) Epoch() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// Fit trains for epochs more epochs. inputs and targets carry samples along their
// first axis. Cancelling ctx stops training before the next batch; the returned
// history covers the completed epochs.
func (m *Model[B]) Fit(ctx context.Context, inputs, targets *tensor.Tensor[float32, B], epochs int) (*History, error) {
	m.fitMu.Lock()
	defer m.fitMu.Unlock()

	log := klog.FromContext(ctx)
	history := &History{RunID: m.runID}

	if epochs <= 0 {
		return history, fmt.Errorf("epochs must be positive, got %d", epochs)
	}
	if err := m.checkInputs(inputs); err != nil {
		return history, err
	}

	for e := 1; e <= epochs; e++ {
		epoch := m.epoch + 1
		startedAt := time.Now()

		batches, err := data.Batches(inputs, targets, m.opts.BatchSize, m.opts.Shuffle, m.opts.Seed+uint64(epoch))
		if err != nil {
			return history, err
		}

		var total float64
		for i, batch := range batches {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			loss, err := m.trainStep(epoch, i, batch)
			if err != nil {
				return history, err
			}
			total += float64(loss) * float64(batch.Size)
			if m.opts.OnBatch != nil {
				m.opts.OnBatch(BatchStats{Epoch: epoch, Batch: i, Batches: len(batches), Loss: loss})
			}
		}

		stats := EpochStats{
			Epoch:        epoch,
			Loss:         float32(total / float64(inputs.Shape()[0])),
			Duration:     time.Since(startedAt),
			LearningRate: m.optimizer.GetLR(),
		}
		m.mu.Lock()
		m.epoch, m.lastLoss = epoch, stats.Loss
		m.mu.Unlock()
		history.Epochs = append(history.Epochs, stats)
		log.V(1).Info("epoch finished", "epoch", epoch, "loss", stats.Loss, "duration", stats.Duration)
		if m.opts.OnEpoch != nil {
			m.opts.OnEpoch(stats)
		}

		every := m.opts.CheckpointEvery
		if every > 0 && e%every == 0 && e != epochs {
			if err := m.Save(ctx); err != nil {
				return history, err
			}
		}
	}

	if err := m.Save(ctx); err != nil {
		return history, err
	}
	return history, nil
}

// trainStep runs one batch under the write lock.
func (m *Model[B]) trainStep(epoch, index int, batch *data.Batch[B]) (float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec := layer.NewExecution(true, m.opts.Seed^uint64(m.step+1))

	var (
		value float32
		err   error
	)
	panicked := exceptions.Try(func() {
		m.engine.StartRecording()
		defer m.engine.StopRecording()

		predictions := m.graph.Run(exec, batch.Inputs)
		loss, lossErr := m.loss.Compute(predictions, batch.Targets)
		if lossErr != nil {
			err = lossErr
			return
		}
		grads := m.gradients(m.engine.Gradients(loss))
		m.engine.StopRecording()

		m.optimizer.Step(grads)
		m.optimizer.ZeroGrad()
		value = loss.Data()[0]
	})
	m.engine.Clear()

	if panicked != nil || err != nil {
		return 0, &ExecutionError{Op: "fit", Epoch: epoch, Batch: index, Panic: panicked, Err: err}
	}
	m.step++
	return value, nil
}

// gradients keeps the gradients of the graph's parameters, in declaration order. A
// parameter the loss does not depend on gets a zero gradient.
func (m *Model[B]) gradients(all map[*tensor.RawTensor]*tensor.RawTensor) map[*tensor.RawTensor]*tensor.RawTensor {
	params := m.graph.Parameters()
	grads := make(map[*tensor.RawTensor]*tensor.RawTensor, len(params))
	for _, p := range params {
		raw := p.Tensor().Raw()
		g, ok := all[raw]
		if !ok || g == nil {
			klog.V(2).Infof("parameter %s received no gradient", p.Name())
			g = tensor.Zeros[float32](p.Tensor().Shape(), m.graph.Backend()).Raw()
		}
		grads[raw] = g
	}
	return grads
}

// Eval returns the sample-weighted mean loss over inputs without recording gradients.
func (m *Model[B]) Eval(inputs, targets *tensor.Tensor[float32, B]) (float32, error) {
	if err := m.checkInputs(inputs); err != nil {
		return 0, err
	}
	batches, err := data.Batches(inputs, targets, m.opts.BatchSize, false, 0)
	if err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	for i, batch := range batches {
		var (
			value float32
			err   error
		)
		panicked := exceptions.Try(func() {
			loss, lossErr := m.loss.Compute(m.graph.Forward(batch.Inputs), batch.Targets)
			if lossErr != nil {
				err = lossErr
				return
			}
			value = loss.Data()[0]
		})
		if panicked != nil || err != nil {
			return 0, &ExecutionError{Op: "eval", Batch: i, Panic: panicked, Err: err}
		}
		total += float64(value) * float64(batch.Size)
	}
	return float32(total / float64(inputs.Shape()[0])), nil
}

// Predict runs the graph in inference mode.
func (m *Model[B]) Predict(inputs *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	if err := m.checkInputs(inputs); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out *tensor.Tensor[float32, B]
	if panicked := exceptions.Try(func() { out = m.graph.Forward(inputs) }); panicked != nil {
		return nil, &ExecutionError{Op: "predict", Panic: panicked}
	}
	return out, nil
}

// Save writes a checkpoint to the configured location. It does nothing when no
// location is configured.
func (m *Model[B]) Save(ctx context.Context) error {
	if m.opts.CheckpointPath == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta := checkpoint.Meta{RunID: m.runID, Epoch: m.epoch, Step: m.step, Loss: float64(m.lastLoss)}
	return checkpoint.Save[B](ctx, m.opts.CheckpointPath, m.graph, m.optimizer, meta)
}

func (m *Model[B]) checkInputs(inputs *tensor.Tensor[float32, B]) error {
	s := inputs.Shape()
	if len(s) == 0 || s[0] == 0 {
		return ErrNoData
	}
	return m.graph.Check(s)
}
