// Package layer defines the declaration-time model of a network: a LayerSpec is one
// step of the user's flat layer list.
//
// A Spec is a closed variant over four kinds:
//   - Plain: a layer with a Build step (dense, convolution, activation, ...)
//   - BranchOpen / BranchClose: structural markers delimiting one parallel branch
//   - Join: a layer that merges the branches of the innermost group
//
// Build steps return explicit result structs (Built, BuiltJoin) that carry the compiled
// transform and the parameters it captured, so ownership of parameters is visible in
// the type rather than hidden in closures.
package layer

import (
	"errors"
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// Kind is the variant tag of a Spec.
type Kind int

// Spec kinds.
const (
	Plain Kind = iota
	BranchOpen
	BranchClose
	Join
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Plain:
		return "Plain"
	case BranchOpen:
		return "BranchOpen"
	case BranchClose:
		return "BranchClose"
	case Join:
		return "Join"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Errors returned by Spec build steps.
var (
	ErrAlreadyBuilt   = errors.New("layer already built")
	ErrNotImplemented = errors.New("capability not implemented")
)

// Transform maps one input value to one output value.
// It must not mutate x and must not depend on the order of previous invocations.
type Transform[B tensor.Backend] func(exec *Execution, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

// Merge combines one value per branch, in branch declaration order, into one value.
type Merge[B tensor.Backend] func(exec *Execution, xs []*tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

// Built is the result of building a Plain layer.
type Built[B tensor.Backend] struct {
	Out       tensor.Shape
	Transform Transform[B]
	Params    []*nn.Parameter[B]
}

// BuiltJoin is the result of building a Join layer.
type BuiltJoin[B tensor.Backend] struct {
	Out    tensor.Shape
	Merge  Merge[B]
	Params []*nn.Parameter[B]
}

// Layer is the capability of a Plain spec.
//
// Build validates the input shape (returning a *shape.Error on rejection), allocates
// parameters through scope and returns the output shape and transform.
type Layer[B tensor.Backend] interface {
	Describe() string
	Build(scope *Scope[B], in tensor.Shape) (Built[B], error)
}

// Joiner is the capability of a Join spec.
//
// Arity is the exact number of branches the join merges, or 0 for any number >= 1.
type Joiner[B tensor.Backend] interface {
	Describe() string
	Arity() int
	BuildJoin(scope *Scope[B], in []tensor.Shape) (BuiltJoin[B], error)
}

// Spec is one declared step of a model definition.
//
// Specs are immutable once compilation starts, except for the one-time transition
// from unbuilt to built.
type Spec[B tensor.Backend] struct {
	kind   Kind
	desc   string
	layer  Layer[B]
	joiner Joiner[B]

	built  bool
	params []*nn.Parameter[B]
}

// New wraps a Layer as a Plain spec.
func New[B tensor.Backend](l Layer[B]) *Spec[B] {
	return &Spec[B]{kind: Plain, desc: l.Describe(), layer: l}
}

// NewJoin wraps a Joiner as a Join spec.
func NewJoin[B tensor.Backend](j Joiner[B]) *Spec[B] {
	return &Spec[B]{kind: Join, desc: j.Describe(), joiner: j}
}

// Open returns a BranchOpen marker.
func Open[B tensor.Backend]() *Spec[B] {
	return &Spec[B]{kind: BranchOpen, desc: "BranchOpen"}
}

// Close returns a BranchClose marker.
func Close[B tensor.Backend]() *Spec[B] {
	return &Spec[B]{kind: BranchClose, desc: "BranchClose"}
}

// From wraps any value: a Joiner becomes a Join spec, a Layer a Plain spec.
// Anything else becomes a Plain spec without a build capability, which the
// compiler rejects with a NotImplementedError.
func From[B tensor.Backend](v any) *Spec[B] {
	switch c := v.(type) {
	case *Spec[B]:
		return c
	case Joiner[B]:
		return NewJoin[B](c)
	case Layer[B]:
		return New[B](c)
	}
	desc := fmt.Sprintf("%T", v)
	if s, ok := v.(fmt.Stringer); ok {
		desc = s.String()
	}
	return &Spec[B]{kind: Plain, desc: desc}
}

// Kind returns the variant tag.
func (s *Spec[B]) Kind() Kind { return s.kind }

// Describe returns a human-readable description.
func (s *Spec[B]) Describe() string { return s.desc }

// String implements fmt.Stringer.
func (s *Spec[B]) String() string { return s.desc }

// IsBranchMarker reports whether s is a BranchOpen or BranchClose marker.
func (s *Spec[B]) IsBranchMarker() bool {
	return s.kind == BranchOpen || s.kind == BranchClose
}

// IsJoin reports whether s is a Join.
func (s *Spec[B]) IsJoin() bool { return s.kind == Join }

// BranchOpens distinguishes the two markers: true for BranchOpen, false otherwise.
func (s *Spec[B]) BranchOpens() bool { return s.kind == BranchOpen }

// Layer returns the Plain capability, or nil.
func (s *Spec[B]) Layer() Layer[B] { return s.layer }

// Joiner returns the Join capability, or nil.
func (s *Spec[B]) Joiner() Joiner[B] { return s.joiner }

// Built reports whether the build step has run.
func (s *Spec[B]) Built() bool { return s.built }

// Params returns the parameters owned by s. Empty before build.
func (s *Spec[B]) Params() []*nn.Parameter[B] { return s.params }

// Reset returns s to the unbuilt state and drops its parameters.
func (s *Spec[B]) Reset() {
	s.built = false
	s.params = nil
}

// Build runs the Plain build step once.
func (s *Spec[B]) Build(scope *Scope[B], in tensor.Shape) (Built[B], error) {
	if s.kind != Plain || s.layer == nil {
		return Built[B]{}, fmt.Errorf("%s: build: %w", s.desc, ErrNotImplemented)
	}
	if s.built {
		return Built[B]{}, fmt.Errorf("%s: %w", s.desc, ErrAlreadyBuilt)
	}
	b, err := s.layer.Build(scope, in)
	if err != nil {
		return Built[B]{}, err
	}
	if b.Transform == nil {
		return Built[B]{}, fmt.Errorf("%s: build returned no transform", s.desc)
	}
	s.built = true
	s.params = b.Params
	return b, nil
}

// BuildJoin runs the Join build step once.
func (s *Spec[B]) BuildJoin(scope *Scope[B], in []tensor.Shape) (BuiltJoin[B], error) {
	if s.kind != Join || s.joiner == nil {
		return BuiltJoin[B]{}, fmt.Errorf("%s: join: %w", s.desc, ErrNotImplemented)
	}
	if s.built {
		return BuiltJoin[B]{}, fmt.Errorf("%s: %w", s.desc, ErrAlreadyBuilt)
	}
	b, err := s.joiner.BuildJoin(scope, in)
	if err != nil {
		return BuiltJoin[B]{}, err
	}
	if b.Merge == nil {
		return BuiltJoin[B]{}, fmt.Errorf("%s: join build returned no merge", s.desc)
	}
	s.built = true
	s.params = b.Params
	return b, nil
}
