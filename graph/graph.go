// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph compiles a flat layer sequence with branch markers into an
// executable forward pass.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/born/backend/cpu"
//	    "github.com/born-ml/born/tensor"
//	    "github.com/born-ml/lattice/graph"
//	    "github.com/born-ml/lattice/layers"
//	)
//
//	func main() {
//	    type B = *cpu.Backend
//	    g, err := graph.Compile(cpu.New(), []*graph.Spec[B]{
//	        graph.Open[B](), layers.Dense[B](3), graph.Close[B](),
//	        graph.Open[B](), layers.Dense[B](6), graph.Close[B](),
//	        layers.Concat[B](1),
//	    }, tensor.Shape{graph.Batch, 4})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    out := g.Forward(x) // [n, 9]
//	}
//
// # Errors
//
// Compile fails on the first offending spec with one of:
//   - *ShapeError: a layer rejected its input shape
//   - *StructuralError: unbalanced branch markers or a misplaced join
//   - *NotImplementedError: a spec lacks the capability its position needs
//   - *BuildError: any other build failure
package graph

import (
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/lattice/internal/compiler"
	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/shape"
)

// Batch marks the dynamic batch dimension in an input shape.
const Batch = shape.Batch

// Graph is a compiled layer sequence.
type Graph[B tensor.Backend] = compiler.Graph[B]

// Record describes one compiled spec.
type Record = compiler.Record

// Compile builds every spec in order against the input shape in.
func Compile[B tensor.Backend](backend B, specs []*Spec[B], in tensor.Shape) (*Graph[B], error) {
	return compiler.Compile(backend, specs, in)
}

// CompileScope is Compile with an explicit root scope.
func CompileScope[B tensor.Backend](scope *Scope[B], specs []*Spec[B], in tensor.Shape) (*Graph[B], error) {
	return compiler.CompileScope(scope, specs, in)
}

// Specs

// Spec is one element of a layer sequence.
type Spec[B tensor.Backend] = layer.Spec[B]

// Kind tags a Spec.
type Kind = layer.Kind

// Spec kinds.
const (
	Plain       = layer.Plain
	BranchOpen  = layer.BranchOpen
	BranchClose = layer.BranchClose
	Join        = layer.Join
)

// Layer is the build capability of a plain spec.
type Layer[B tensor.Backend] = layer.Layer[B]

// Joiner is the build capability of a join spec.
type Joiner[B tensor.Backend] = layer.Joiner[B]

// Built is the result of building a Layer.
type Built[B tensor.Backend] = layer.Built[B]

// BuiltJoin is the result of building a Joiner.
type BuiltJoin[B tensor.Backend] = layer.BuiltJoin[B]

// Scope names parameters created during a build.
type Scope[B tensor.Backend] = layer.Scope[B]

// Execution carries the run mode of one forward pass.
type Execution = layer.Execution

// New wraps a custom layer in a plain Spec.
func New[B tensor.Backend](l Layer[B]) *Spec[B] {
	return layer.New(l)
}

// NewJoin wraps a custom joiner in a join Spec.
func NewJoin[B tensor.Backend](j Joiner[B]) *Spec[B] {
	return layer.NewJoin(j)
}

// Open starts a new branch.
func Open[B tensor.Backend]() *Spec[B] {
	return layer.Open[B]()
}

// Close ends the innermost open branch.
func Close[B tensor.Backend]() *Spec[B] {
	return layer.Close[B]()
}

// NewScope creates a root build scope.
func NewScope[B tensor.Backend](backend B) *Scope[B] {
	return layer.NewScope(backend)
}

// NewExecution creates a run mode. Training enables dropout, seeded with seed.
func NewExecution(training bool, seed uint64) *Execution {
	return layer.NewExecution(training, seed)
}

// Errors

// ShapeError reports a layer rejecting its input shape.
type ShapeError = shape.Error

// StructuralError reports an ill-formed layer sequence.
type StructuralError = compiler.StructuralError

// NotImplementedError reports a spec lacking a required capability.
type NotImplementedError = compiler.NotImplementedError

// BuildError wraps any other layer build failure.
type BuildError = compiler.BuildError
