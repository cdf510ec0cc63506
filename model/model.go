// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package model trains and evaluates compiled graphs.
//
// # Basic Usage
//
//	backend := autodiff.New(cpu.New())
//	g, _ := graph.Compile(backend, specs, tensor.Shape{graph.Batch, 4})
//	opt := optim.NewAdam(g.Parameters(), optim.AdamConfig{LR: 0.01, Betas: [2]float32{0.9, 0.999}, Eps: 1e-8}, backend)
//
//	m, err := model.New(ctx, g, model.MSE[B]{}, opt, model.NewTapeEngine(backend), model.Options{
//	    CheckpointPath: "run.born",
//	    BatchSize:      32,
//	    Shuffle:        true,
//	})
//	history, err := m.Fit(ctx, inputs, targets, 10)
//	loss, err := m.Eval(inputs, targets)
//	predictions, err := m.Predict(inputs)
//
// With Options.Restore set, New loads the checkpoint and training continues from the
// saved epoch.
package model

import (
	"context"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/lattice/internal/checkpoint"
	"github.com/born-ml/lattice/internal/compiler"
	"github.com/born-ml/lattice/internal/model"
)

// Model is a trainable compiled graph.
type Model[B tensor.Backend] = model.Model[B]

// Options configure a Model.
type Options = model.Options

// EpochStats summarizes one finished epoch.
type EpochStats = model.EpochStats

// BatchStats describes one finished batch.
type BatchStats = model.BatchStats

// History is what Fit returns.
type History = model.History

// New creates a Model. The optimizer must have been created over g.Parameters().
func New[B tensor.Backend](
	ctx context.Context,
	g *compiler.Graph[B],
	loss Loss[B],
	optimizer optim.Optimizer,
	engine Engine[B],
	opts Options,
) (*Model[B], error) {
	return model.New(ctx, g, loss, optimizer, engine, opts)
}

// Engines

// Engine records operations and computes gradients.
type Engine[B tensor.Backend] = model.Engine[B]

// TapeEngine is the Engine of Born's autodiff backend.
type TapeEngine[B tensor.Backend] = model.TapeEngine[B]

// NewTapeEngine creates an engine over backend's gradient tape.
func NewTapeEngine[B tensor.Backend](backend *autodiff.Backend[B]) *TapeEngine[B] {
	return model.NewTapeEngine(backend)
}

// Losses

// Loss reduces predictions and targets to a scalar.
type Loss[B tensor.Backend] = model.Loss[B]

// MSE is the mean squared error.
type MSE[B tensor.Backend] = model.MSE[B]

// CrossEntropy is softmax cross-entropy over class-index targets.
type CrossEntropy[B tensor.Backend] = model.CrossEntropy[B]

// LossByName returns "mse" or "cross_entropy".
func LossByName[B tensor.Backend](name string) (Loss[B], error) {
	return model.LossByName[B](name)
}

// Errors

// ErrNoData is returned for an empty dataset.
var ErrNoData = model.ErrNoData

// ExecutionError reports a failure while the engine ran a batch.
type ExecutionError = model.ExecutionError

// CheckpointError reports a failed checkpoint save or restore.
type CheckpointError = checkpoint.Error

// Checkpoint sentinels, matched with errors.Is.
var (
	ErrCheckpointNotFound     = checkpoint.ErrNotFound
	ErrCheckpointIncompatible = checkpoint.ErrIncompatible
)
