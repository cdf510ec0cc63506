package model

import (
	"fmt"
	"math"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// Loss reduces predictions and targets to a scalar. The result must be produced by
// recorded operations so the engine can differentiate it.
type Loss[B tensor.Backend] interface {
	Name() string
	Compute(predictions, targets *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error)
}

// MSE is the mean squared error.
type MSE[B tensor.Backend] struct{}

func (MSE[B]) Name() string { return "mse" }

// Compute returns mean((predictions - targets)²) as a [1, 1] tensor. Targets may omit a
// trailing axis of size 1.
func (MSE[B]) Compute(predictions, targets *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	if !predictions.Shape().Equal(targets.Shape()) {
		if predictions.NumElements() != targets.NumElements() || !isColumn(predictions.Shape()) {
			return nil, fmt.Errorf("mse: predictions %v and targets %v differ in shape", predictions.Shape(), targets.Shape())
		}
		targets = targets.Reshape(predictions.Shape()...)
	}
	n := predictions.NumElements()
	diff := predictions.Sub(targets)
	squared := diff.Mul(diff).Reshape(1, n)
	weights := tensor.Full[float32](tensor.Shape{n, 1}, 1/float32(n), predictions.Backend())
	return squared.MatMul(weights), nil
}

// CrossEntropy is softmax cross-entropy over logits of shape [batch, classes]. Targets
// hold class indices as float32, with shape [batch] or [batch, 1].
type CrossEntropy[B tensor.Backend] struct{}

func (CrossEntropy[B]) Name() string { return "cross_entropy" }

func (CrossEntropy[B]) Compute(logits, targets *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	s := logits.Shape()
	if len(s) != 2 {
		return nil, fmt.Errorf("cross_entropy: logits must be [batch, classes], got %v", s)
	}
	if targets.NumElements() != s[0] {
		return nil, fmt.Errorf("cross_entropy: %d targets for batch of %d", targets.NumElements(), s[0])
	}

	classes := make([]int32, s[0])
	for i, v := range targets.Data() {
		if v != float32(math.Trunc(float64(v))) || v < 0 || int(v) >= s[1] {
			return nil, fmt.Errorf("cross_entropy: target %d is %g, want a class index in [0, %d)", i, v, s[1])
		}
		classes[i] = int32(v)
	}
	labels, err := tensor.FromSlice(classes, tensor.Shape{s[0]}, logits.Backend())
	if err != nil {
		return nil, fmt.Errorf("cross_entropy: %w", err)
	}
	return nn.NewCrossEntropyLoss(logits.Backend()).Forward(logits, labels), nil
}

// LossByName returns the loss registered under name: "mse" or "cross_entropy".
func LossByName[B tensor.Backend](name string) (Loss[B], error) {
	switch name {
	case "mse":
		return MSE[B]{}, nil
	case "cross_entropy", "crossentropy":
		return CrossEntropy[B]{}, nil
	default:
		return nil, fmt.Errorf("unknown loss %q", name)
	}
}

func isColumn(s tensor.Shape) bool {
	return len(s) == 2 && s[1] == 1
}
