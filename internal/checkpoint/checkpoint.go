// Package checkpoint saves and restores training state: parameter values, optimizer
// state and run metadata.
//
// Checkpoints are Born .born files. Optimizer state is stored next to the parameters
// with its keys prefixed by "optimizer.". Locations are local paths or
// gs://bucket/object URLs.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

const (
	modelType       = "lattice.Graph"
	optimizerPrefix = "optimizer."
)

var (
	// ErrNotFound is returned when no checkpoint exists at the location.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrIncompatible is returned when a checkpoint does not fit the model it is
	// restored into.
	ErrIncompatible = errors.New("checkpoint incompatible with model")
)

// Error describes a failed checkpoint operation.
type Error struct {
	Location string
	Op       string // "save" or "restore"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Location, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Meta is the training progress stored with a checkpoint.
type Meta struct {
	RunID     string
	Epoch     int
	Step      int64
	Loss      float64
	CreatedAt time.Time
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Stateful is implemented by optimizers that carry state between steps, such as
// momentum buffers.
type Stateful interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// Save writes the parameters of model, the state of optimizer (when it is Stateful)
// and meta to location. optimizer may be nil.
func Save[B tensor.Backend](ctx context.Context, location string, model nn.Module[B], optimizer any, meta Meta) error {
	log := klog.FromContext(ctx)

	store, err := Open(location)
	if err != nil {
		return &Error{Location: location, Op: "save", Err: err}
	}
	if meta.RunID == "" {
		meta.RunID = NewRunID()
	}

	b := &bundle[B]{model: model}
	b.optimizer, _ = optimizer.(Stateful)

	err = store.Write(ctx, func(path string) error {
		return nn.Save[B](b, path, modelType, meta.encode())
	})
	if err != nil {
		return &Error{Location: location, Op: "save", Err: err}
	}
	log.V(1).Info("saved checkpoint", "location", location, "run", meta.RunID, "epoch", meta.Epoch, "step", meta.Step)
	return nil
}

// Restore loads a checkpoint from location into model and optimizer. optimizer may be
// nil. A missing checkpoint yields an error matching ErrNotFound; one whose parameters
// do not fit the model yields an error matching ErrIncompatible, and leaves the model's
// values unchanged.
func Restore[B tensor.Backend](ctx context.Context, location string, backend B, model nn.Module[B], optimizer any) (Meta, error) {
	log := klog.FromContext(ctx)

	store, err := Open(location)
	if err != nil {
		return Meta{}, &Error{Location: location, Op: "restore", Err: err}
	}

	b := &bundle[B]{model: model}
	b.optimizer, _ = optimizer.(Stateful)

	var meta Meta
	err = store.Read(ctx, func(path string) error {
		header, err := nn.Load[B](path, backend, b)
		if err != nil {
			return err
		}
		if header.ModelType != modelType {
			return fmt.Errorf("%w: model type %q", ErrIncompatible, header.ModelType)
		}
		meta, err = decodeMeta(header.Metadata)
		if err != nil {
			return err
		}
		meta.CreatedAt = header.CreatedAt
		return nil
	})
	if err != nil {
		return Meta{}, &Error{Location: location, Op: "restore", Err: err}
	}
	log.V(1).Info("restored checkpoint", "location", location, "run", meta.RunID, "epoch", meta.Epoch, "step", meta.Step)
	return meta, nil
}

func (m Meta) encode() map[string]string {
	return map[string]string{
		"run_id": m.RunID,
		"epoch":  strconv.Itoa(m.Epoch),
		"step":   strconv.FormatInt(m.Step, 10),
		"loss":   strconv.FormatFloat(m.Loss, 'g', -1, 64),
	}
}

func decodeMeta(md map[string]string) (Meta, error) {
	var (
		m   Meta
		err error
	)
	m.RunID = md["run_id"]
	if m.Epoch, err = strconv.Atoi(md["epoch"]); err != nil {
		return Meta{}, fmt.Errorf("invalid epoch metadata: %w", err)
	}
	if m.Step, err = strconv.ParseInt(md["step"], 10, 64); err != nil {
		return Meta{}, fmt.Errorf("invalid step metadata: %w", err)
	}
	if m.Loss, err = strconv.ParseFloat(md["loss"], 64); err != nil {
		return Meta{}, fmt.Errorf("invalid loss metadata: %w", err)
	}
	return m, nil
}

// bundle presents a model and its optimizer as one module so a single state dict
// carries both.
type bundle[B tensor.Backend] struct {
	model     nn.Module[B]
	optimizer Stateful
}

func (b *bundle[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return b.model.Forward(x)
}

func (b *bundle[B]) Parameters() []*nn.Parameter[B] {
	return b.model.Parameters()
}

func (b *bundle[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := b.model.StateDict()
	if b.optimizer != nil {
		for name, raw := range b.optimizer.StateDict() {
			stateDict[optimizerPrefix+name] = raw
		}
	}
	return stateDict
}

func (b *bundle[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	modelState := make(map[string]*tensor.RawTensor)
	optimizerState := make(map[string]*tensor.RawTensor)
	for name, raw := range stateDict {
		if rest, ok := strings.CutPrefix(name, optimizerPrefix); ok {
			optimizerState[rest] = raw
		} else {
			modelState[name] = raw
		}
	}

	if c, ok := b.model.(stateChecker); ok {
		if err := c.CheckStateDict(modelState); err != nil {
			return fmt.Errorf("%w: %v", ErrIncompatible, err)
		}
	}
	if b.optimizer != nil {
		if err := b.optimizer.LoadStateDict(optimizerState); err != nil {
			return fmt.Errorf("%w: optimizer state: %v", ErrIncompatible, err)
		}
	}
	if err := b.model.LoadStateDict(modelState); err != nil {
		return fmt.Errorf("%w: %v", ErrIncompatible, err)
	}
	return nil
}

// stateChecker is implemented by models that can validate a state dict without
// loading it. Their parameters stay untouched when the optimizer state is rejected.
type stateChecker interface {
	CheckStateDict(stateDict map[string]*tensor.RawTensor) error
}

// Exists reports whether a checkpoint is present at location.
func Exists(ctx context.Context, location string) (bool, error) {
	store, err := Open(location)
	if err != nil {
		return false, err
	}
	return store.Exists(ctx)
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
