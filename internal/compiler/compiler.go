// Package compiler turns a flat layer sequence with branch markers into one executable
// forward pass and the ordered list of trainable parameters it uses.
//
// The sequence is walked once, left to right. Plain layers are built against the shape
// of the active slot and appended to the active chain (the trunk, or the innermost open
// branch). BranchOpen forks a new branch, BranchClose ends it, and a Join merges every
// branch of the innermost group:
//
//	specs := []*layer.Spec[B]{
//	    layer.Open[B](), layers.Dense[B](3), layer.Close[B](),
//	    layer.Open[B](), layers.Dense[B](6), layer.Close[B](),
//	    layers.Concat[B](1),
//	}
//	g, err := compiler.Compile(backend, specs, tensor.Shape{shape.Batch, 4}) // out [batch,9]
//
// A Join consumes the innermost group only, and only after all of its branches are
// closed. A group may hold a single branch if the join accepts any arity.
package compiler

import (
	"errors"
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"k8s.io/klog/v2"

	"github.com/born-ml/lattice/internal/branch"
	"github.com/born-ml/lattice/internal/layer"
	"github.com/born-ml/lattice/internal/shape"
)

// Compile builds every spec in declaration order and returns the compiled graph.
// in is the input shape, with shape.Batch marking the dynamic batch axis.
//
// Any error aborts compilation; no partial graph is returned. Errors are *shape.Error,
// *StructuralError, *NotImplementedError or *BuildError, all naming the position of the
// offending spec.
func Compile[B tensor.Backend](backend B, specs []*layer.Spec[B], in tensor.Shape) (*Graph[B], error) {
	return CompileScope(layer.NewScope(backend), specs, in)
}

// CompileScope is Compile with an explicit root scope, used to prefix parameter names.
func CompileScope[B tensor.Backend](scope *layer.Scope[B], specs []*layer.Spec[B], in tensor.Shape) (*Graph[B], error) {
	c := &compilation[B]{
		scope:  scope,
		stack:  branch.NewStack[layer.Transform[B]](),
		shapes: shape.NewState(in),
		names:  make(map[string]int),
	}
	for i, s := range specs {
		if s == nil {
			c.rollback()
			return nil, &StructuralError{Position: i, Layer: "<nil>", Reason: "nil layer spec"}
		}
		if err := c.step(i, s); err != nil {
			klog.V(1).Infof("compile failed at layer %d (%s): %v", i, s.Describe(), err)
			c.rollback()
			return nil, err
		}
	}
	if top := c.stack.Top(); top != nil {
		c.rollback()
		reason := fmt.Sprintf("branch group has no matching Join (%d branch(es))", top.Len())
		if top.BranchOpen() {
			reason = fmt.Sprintf("branch opened at position %d is never closed", top.OpenedAt())
		}
		return nil, &StructuralError{
			Position: top.Position,
			Layer:    specs[top.Position].Describe(),
			Reason:   reason,
		}
	}

	out := c.shapes.At(0)
	klog.V(2).Infof("compiled %d layers: %s -> %s, %d parameters",
		len(specs), shape.String(in), shape.String(out), len(c.params))
	return &Graph[B]{
		backend: scope.Backend(),
		in:      in.Clone(),
		out:     out,
		forward: sequence(c.trunk),
		params:  c.params,
		records: c.records,
	}, nil
}

// compilation is the state of one Compile call.
type compilation[B tensor.Backend] struct {
	scope   *layer.Scope[B]
	trunk   []layer.Transform[B]
	stack   *branch.Stack[layer.Transform[B]]
	shapes  *shape.State
	params  []*nn.Parameter[B]
	names   map[string]int
	records []Record
	built   []*layer.Spec[B] // specs built by this compilation, for rollback
}

// rollback returns every spec built by this compilation to the unbuilt state, so a
// failed compile leaves the sequence reusable.
func (c *compilation[B]) rollback() {
	for _, s := range c.built {
		s.Reset()
	}
	c.built = nil
}

func (c *compilation[B]) step(i int, s *layer.Spec[B]) error {
	switch s.Kind() {
	case layer.Plain:
		return c.plain(i, s)
	case layer.BranchOpen:
		return c.open(i, s)
	case layer.BranchClose:
		return c.close(i, s)
	case layer.Join:
		return c.join(i, s)
	default:
		return &StructuralError{Position: i, Layer: s.Describe(), Reason: fmt.Sprintf("unknown layer kind %s", s.Kind())}
	}
}

// activeSlot returns the shape slot Plain layers currently build against, or -1 when
// the innermost group has no open branch.
func (c *compilation[B]) activeSlot() int {
	top := c.stack.Top()
	if top == nil {
		return 0
	}
	slot, err := top.Slot()
	if err != nil {
		return -1
	}
	return slot
}

func (c *compilation[B]) appendTransform(t layer.Transform[B]) error {
	if top := c.stack.Top(); top != nil {
		return top.Append(t)
	}
	c.trunk = append(c.trunk, t)
	return nil
}

func (c *compilation[B]) plain(i int, s *layer.Spec[B]) error {
	if top := c.stack.Top(); top != nil && !top.BranchOpen() {
		return &NotImplementedError{
			Position:   i,
			Layer:      s.Describe(),
			Capability: "join",
			Reason:     fmt.Sprintf("a Join is required to merge the branch group opened at position %d", top.Position),
		}
	}
	if s.Layer() == nil {
		return &NotImplementedError{Position: i, Layer: s.Describe(), Capability: "build"}
	}

	slot := c.activeSlot()
	var built layer.Built[B]
	err := c.shapes.Advance(slot, func(in tensor.Shape) (tensor.Shape, error) {
		var err error
		built, err = s.Build(c.scope.At(i), in)
		if err == nil {
			c.built = append(c.built, s)
		}
		return built.Out, err
	})
	if err != nil {
		return c.buildError(i, s, err)
	}
	if err := c.collect(i, s, built.Params); err != nil {
		return err
	}
	c.record(i, s, c.shapes.At(slot), built.Params)
	return c.appendTransform(built.Transform)
}

func (c *compilation[B]) open(i int, s *layer.Spec[B]) error {
	top := c.stack.Top()
	if top == nil || top.BranchOpen() {
		// Fork a new group from the active slot.
		f, err := c.stack.Push(i, c.activeSlot())
		if err != nil {
			return &StructuralError{Position: i, Layer: s.Describe(), Reason: "cannot open branch group", Err: err}
		}
		top = f
	}
	slot, err := c.shapes.Open(top.Base)
	if err != nil {
		return &StructuralError{Position: i, Layer: s.Describe(), Reason: "cannot open branch", Err: err}
	}
	if err := top.StartBranch(i, slot); err != nil {
		return &StructuralError{Position: i, Layer: s.Describe(), Reason: "cannot open branch", Err: err}
	}
	c.record(i, s, c.shapes.At(slot), nil)
	return nil
}

func (c *compilation[B]) close(i int, s *layer.Spec[B]) error {
	top := c.stack.Top()
	if top == nil {
		return &StructuralError{Position: i, Layer: s.Describe(), Reason: "BranchClose with no open branch group"}
	}
	slot, _ := top.Slot()
	if err := top.EndBranch(); err != nil {
		return &StructuralError{Position: i, Layer: s.Describe(), Reason: "BranchClose with no open branch", Err: err}
	}
	c.record(i, s, c.shapes.At(slot), nil)
	return nil
}

func (c *compilation[B]) join(i int, s *layer.Spec[B]) error {
	j := s.Joiner()
	if j == nil {
		return &NotImplementedError{Position: i, Layer: s.Describe(), Capability: "join"}
	}
	top := c.stack.Top()
	if top == nil {
		return &StructuralError{Position: i, Layer: s.Describe(), Reason: "Join with no open branch group"}
	}
	if top.BranchOpen() {
		return &StructuralError{
			Position: i,
			Layer:    s.Describe(),
			Reason:   fmt.Sprintf("branch opened at position %d is still open", top.OpenedAt()),
		}
	}
	if a := j.Arity(); a > 0 && a != top.Len() {
		return &StructuralError{
			Position: i,
			Layer:    s.Describe(),
			Reason:   fmt.Sprintf("join expects %d branches, group opened at position %d has %d", a, top.Position, top.Len()),
		}
	}

	var built layer.BuiltJoin[B]
	merged, err := c.shapes.Collapse(top.Slots(), func(in []tensor.Shape) (tensor.Shape, error) {
		var err error
		built, err = s.BuildJoin(c.scope.At(i), in)
		if err == nil {
			c.built = append(c.built, s)
		}
		return built.Out, err
	})
	if err != nil {
		return c.buildError(i, s, err)
	}
	if err := c.collect(i, s, built.Params); err != nil {
		return err
	}

	frame, err := c.stack.Pop()
	if err != nil {
		return &StructuralError{Position: i, Layer: s.Describe(), Reason: "cannot close branch group", Err: err}
	}
	if err := c.shapes.Fold(merged, frame.Base); err != nil {
		return &StructuralError{Position: i, Layer: s.Describe(), Reason: "cannot close branch group", Err: err}
	}
	c.record(i, s, c.shapes.At(frame.Base), built.Params)
	return c.appendTransform(makeBranch(frame.Chains(), built.Merge))
}

// collect appends params in build order, rejecting name clashes.
func (c *compilation[B]) collect(i int, s *layer.Spec[B], params []*nn.Parameter[B]) error {
	for _, p := range params {
		if owner, dup := c.names[p.Name()]; dup {
			return &StructuralError{
				Position: i,
				Layer:    s.Describe(),
				Reason:   fmt.Sprintf("parameter %q already declared by layer %d", p.Name(), owner),
			}
		}
		c.names[p.Name()] = i
		c.params = append(c.params, p)
	}
	return nil
}

func (c *compilation[B]) record(i int, s *layer.Spec[B], out tensor.Shape, params []*nn.Parameter[B]) {
	r := Record{
		Position: i,
		Kind:     s.Kind(),
		Layer:    s.Describe(),
		Depth:    c.stack.Depth(),
		Out:      out,
	}
	for _, p := range params {
		r.Params = append(r.Params, p.Name())
		r.Elements += p.Tensor().NumElements()
	}
	if klog.V(2).Enabled() {
		klog.Infof("layer %d %-11s %-24s depth=%d out=%s params=%d",
			i, s.Kind(), s.Describe(), r.Depth, shape.String(out), r.Elements)
	}
	c.records = append(c.records, r)
}

func (c *compilation[B]) buildError(i int, s *layer.Spec[B], err error) error {
	var se *shape.Error
	switch {
	case errors.As(err, &se):
		if se.Position < 0 {
			se.Position = i
			se.Layer = s.Describe()
		}
		return se
	case errors.Is(err, layer.ErrAlreadyBuilt):
		return &StructuralError{Position: i, Layer: s.Describe(), Reason: "layer spec appears more than once", Err: err}
	case errors.Is(err, layer.ErrNotImplemented):
		capability := "build"
		if s.IsJoin() {
			capability = "join"
		}
		return &NotImplementedError{Position: i, Layer: s.Describe(), Capability: capability}
	default:
		return &BuildError{Position: i, Layer: s.Describe(), Err: err}
	}
}

// makeBranch runs every chain on the same input, in branch order, and merges the results.
// Sharing x between chains keeps every branch connected to the autodiff tape; x is
// marked non-unique while the group runs so no backend reuses its buffer in place.
func makeBranch[B tensor.Backend](chains [][]layer.Transform[B], merge layer.Merge[B]) layer.Transform[B] {
	branches := make([]layer.Transform[B], len(chains))
	for k, ch := range chains {
		branches[k] = sequence(ch)
	}
	return func(exec *layer.Execution, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
		defer x.Raw().ForceNonUnique()()
		outs := make([]*tensor.Tensor[float32, B], len(branches))
		for k, run := range branches {
			outs[k] = run(exec, x)
		}
		return merge(exec, outs)
	}
}

// sequence composes transforms left to right. An empty sequence is the identity.
func sequence[B tensor.Backend](ts []layer.Transform[B]) layer.Transform[B] {
	ts = append([]layer.Transform[B](nil), ts...)
	return func(exec *layer.Execution, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
		for _, t := range ts {
			x = t(exec, x)
		}
		return x
	}
}
