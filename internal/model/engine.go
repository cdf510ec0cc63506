package model

import (
	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/tensor"
)

// Engine records operations while a batch runs and turns a scalar loss into gradients.
type Engine[B tensor.Backend] interface {
	// Backend returns the backend the graph runs on.
	Backend() B

	StartRecording()
	StopRecording()

	// Gradients back-propagates from loss and returns the gradient of every recorded
	// tensor, keyed by its raw tensor.
	Gradients(loss *tensor.Tensor[float32, B]) map[*tensor.RawTensor]*tensor.RawTensor

	// Clear drops everything recorded so far.
	Clear()
}

// TapeEngine is the Engine of Born's autodiff backend.
type TapeEngine[B tensor.Backend] struct {
	backend *autodiff.Backend[B]
}

// NewTapeEngine creates an engine over backend's gradient tape.
func NewTapeEngine[B tensor.Backend](backend *autodiff.Backend[B]) *TapeEngine[B] {
	return &TapeEngine[B]{backend: backend}
}

func (e *TapeEngine[B]) Backend() *autodiff.Backend[B] { return e.backend }

func (e *TapeEngine[B]) StartRecording() { e.backend.Tape().StartRecording() }

func (e *TapeEngine[B]) StopRecording() { e.backend.Tape().StopRecording() }

func (e *TapeEngine[B]) Clear() { e.backend.Tape().Clear() }

// Gradients seeds back-propagation with ones shaped like loss.
func (e *TapeEngine[B]) Gradients(loss *tensor.Tensor[float32, *autodiff.Backend[B]]) map[*tensor.RawTensor]*tensor.RawTensor {
	outputGrad := tensor.Ones[float32](loss.Shape(), e.backend)
	return e.backend.Tape().Backward(outputGrad.Raw(), e.backend)
}
