// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package layers provides the bundled layers and joins for graph.Compile.
//
// Plain layers: Dense, Conv2D, MaxPool2D, Flatten, Reshape, Activation, Dropout,
// LayerNorm. Joins: Concat, Add, Mean, Multiply. Joins accept any number of
// branches unless restricted with WithArity.
//
// Registry maps the kind names used in model files ("dense", "concat", ...) to
// constructors.
package layers

import (
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/layers"
)

// Dense creates a fully connected layer with bias. Input must be [batch, features].
func Dense[B tensor.Backend](units int) *layer.Spec[B] {
	return layers.Dense[B](units)
}

// DenseNoBias creates a fully connected layer without bias.
func DenseNoBias[B tensor.Backend](units int) *layer.Spec[B] {
	return layers.DenseNoBias[B](units)
}

// Conv2D creates a 2D convolution over [batch, channels, height, width] inputs.
//
// Example:
//
//	conv := layers.Conv2D[B](32, 3, 1, 1) // filters=32, kernel=3x3, stride=1, padding=1
func Conv2D[B tensor.Backend](filters, kernel, stride, padding int) *layer.Spec[B] {
	return layers.Conv2D[B](filters, kernel, stride, padding)
}

// MaxPool2D creates a 2D max pooling layer.
func MaxPool2D[B tensor.Backend](size, stride int) *layer.Spec[B] {
	return layers.MaxPool2D[B](size, stride)
}

// Flatten collapses every axis after the batch axis.
func Flatten[B tensor.Backend]() *layer.Spec[B] {
	return layers.Flatten[B]()
}

// Reshape reshapes the non-batch axes to dims. One dim may be -1.
func Reshape[B tensor.Backend](dims ...int) *layer.Spec[B] {
	return layers.Reshape[B](dims...)
}

// Activation creates an element-wise activation by name.
func Activation[B tensor.Backend](name string) *layer.Spec[B] {
	return layers.Activation[B](name)
}

// Activations lists the supported activation names.
func Activations() []string {
	return layers.Activations()
}

// Dropout zeroes inputs with probability rate while training.
func Dropout[B tensor.Backend](rate float64) *layer.Spec[B] {
	return layers.Dropout[B](rate)
}

// LayerNorm normalizes over the last axis.
func LayerNorm[B tensor.Backend](epsilon float32) *layer.Spec[B] {
	return layers.LayerNorm[B](epsilon)
}

// Joins

// Concat joins branches along axis.
func Concat[B tensor.Backend](axis int) *layer.Spec[B] {
	return layers.Concat[B](axis)
}

// Add sums branches of equal shape.
func Add[B tensor.Backend]() *layer.Spec[B] {
	return layers.Add[B]()
}

// Mean averages branches of equal shape.
func Mean[B tensor.Backend]() *layer.Spec[B] {
	return layers.Mean[B]()
}

// Multiply multiplies branches of equal shape element-wise.
func Multiply[B tensor.Backend]() *layer.Spec[B] {
	return layers.Multiply[B]()
}

// WithArity restricts a join to exactly n branches.
func WithArity[B tensor.Backend](s *layer.Spec[B], n int) *layer.Spec[B] {
	return layers.WithArity(s, n)
}

// Registry

// Attrs holds the attributes of a declared layer.
type Attrs = layers.Attrs

// Constructor creates a spec from attributes.
type Constructor[B tensor.Backend] = layers.Constructor[B]

// Registry maps kind names to constructors.
type Registry[B tensor.Backend] = layers.Registry[B]

// NewRegistry creates a Registry holding the bundled layers.
func NewRegistry[B tensor.Backend]() *Registry[B] {
	return layers.NewRegistry[B]()
}
