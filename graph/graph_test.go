// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package graph_test

import (
	"testing"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/lattice/graph"
	"github.com/born-ml/lattice/layers"
)

type B = *cpu.Backend

func TestCompile_TwoBranches(t *testing.T) {
	backend := cpu.New()
	g, err := graph.Compile(backend, []*graph.Spec[B]{
		graph.Open[B](), layers.Dense[B](3), graph.Close[B](),
		graph.Open[B](), layers.Dense[B](6), graph.Close[B](),
		layers.Concat[B](1),
	}, tensor.Shape{graph.Batch, 4})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{graph.Batch, 9}, g.OutputShape())
	assert.Len(t, g.Parameters(), 4)

	x := tensor.Ones[float32](tensor.Shape{2, 4}, backend)
	assert.Equal(t, tensor.Shape{2, 9}, g.Forward(x).Shape())
}

func TestCompile_Errors(t *testing.T) {
	backend := cpu.New()

	_, err := graph.Compile(backend, []*graph.Spec[B]{graph.Close[B]()}, tensor.Shape{graph.Batch, 4})
	var se *graph.StructuralError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Position)

	_, err = graph.Compile(backend, []*graph.Spec[B]{layers.Conv2D[B](4, 3, 1, 1)}, tensor.Shape{graph.Batch, 4})
	var shapeErr *graph.ShapeError
	assert.ErrorAs(t, err, &shapeErr)
}
