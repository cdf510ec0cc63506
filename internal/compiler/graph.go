package compiler

import (
	"fmt"
	"sort"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/shape"
)

// Record describes one compiled spec, for summaries.
type Record struct {
	Position int
	Kind     layer.Kind
	Layer    string
	Depth    int          // number of open branch groups after the spec
	Out      tensor.Shape // shape of the slot the spec wrote to
	Params   []string     // names of the parameters the spec owns
	Elements int          // total number of parameter elements
}

// Graph is a compiled layer sequence: one composed transform plus the parameters it
// captured, in declaration order.
//
// Graph implements nn.Module so it can be saved and loaded with Born's serialization.
// It is safe for concurrent inference as long as no one mutates the parameters.
type Graph[B tensor.Backend] struct {
	backend B
	in, out tensor.Shape
	forward layer.Transform[B]
	params  []*nn.Parameter[B]
	records []Record
}

// Forward runs the graph in inference mode.
func (g *Graph[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return g.Run(layer.Inference(), input)
}

// Run runs the graph with an explicit execution context. The caller's input is never
// modified.
func (g *Graph[B]) Run(exec *layer.Execution, input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	defer input.Raw().ForceNonUnique()()
	return g.forward(exec, input)
}

// Check reports whether a concrete input shape satisfies the declared input shape.
func (g *Graph[B]) Check(in tensor.Shape) error {
	if !shape.Matches(g.in, in) {
		return fmt.Errorf("input shape %v does not match declared %s", in, shape.String(g.in))
	}
	return nil
}

// InputShape returns the declared input shape.
func (g *Graph[B]) InputShape() tensor.Shape { return g.in.Clone() }

// OutputShape returns the inferred output shape.
func (g *Graph[B]) OutputShape() tensor.Shape { return g.out.Clone() }

// Backend returns the backend parameters were created on.
func (g *Graph[B]) Backend() B { return g.backend }

// Parameters returns all trainable parameters in declaration order.
func (g *Graph[B]) Parameters() []*nn.Parameter[B] {
	return g.params
}

// Records returns one record per compiled spec.
func (g *Graph[B]) Records() []Record {
	return g.records
}

// NumElements returns the total number of trainable scalars.
func (g *Graph[B]) NumElements() int {
	n := 0
	for _, p := range g.params {
		n += p.Tensor().NumElements()
	}
	return n
}

// StateDict returns the parameters keyed by their (globally unique) names.
func (g *Graph[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor, len(g.params))
	for _, p := range g.params {
		stateDict[p.Name()] = p.Tensor().Raw()
	}
	return stateDict
}

// LoadStateDict copies values from stateDict into the parameters. Nothing is copied
// unless CheckStateDict accepts stateDict.
func (g *Graph[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := g.CheckStateDict(stateDict); err != nil {
		return err
	}
	for _, p := range g.params {
		copy(p.Tensor().Data(), stateDict[p.Name()].AsFloat32())
	}
	return nil
}

// CheckStateDict reports whether stateDict can be loaded: every parameter must be
// present with a matching shape and dtype. Extra keys are ignored.
func (g *Graph[B]) CheckStateDict(stateDict map[string]*tensor.RawTensor) error {
	var missing []string
	for _, p := range g.params {
		if _, ok := stateDict[p.Name()]; !ok {
			missing = append(missing, p.Name())
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing parameters in state dict: %v", missing)
	}

	for _, p := range g.params {
		raw := stateDict[p.Name()]
		want := p.Tensor().Shape()
		if !raw.Shape().Equal(want) {
			return fmt.Errorf("%s shape mismatch: expected %v, got %v", p.Name(), want, raw.Shape())
		}
		if raw.DType() != tensor.Float32 {
			return fmt.Errorf("%s dtype mismatch: expected float32, got %v", p.Name(), raw.DType())
		}
	}
	return nil
}
