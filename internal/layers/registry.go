package layers

import (
	"fmt"
	"math"
	"sort"

	"github.com/born-ml/born/tensor"

	"github.com/born-ml/lattice/internal/layer"
)

// Attrs are the attributes of one declared layer, as decoded from a model file.
// Values are int, float64, bool, string or []int.
type Attrs map[string]any

// Int returns attribute name as an int, or def when it is absent.
func (a Attrs) Int(name string, def int) (int, error) {
	v, ok := a[name]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("attribute %q: %g is not an integer", name, x)
		}
		return int(x), nil
	default:
		return 0, fmt.Errorf("attribute %q: expected a number, got %T", name, v)
	}
}

// Float returns attribute name as a float64, or def when it is absent.
func (a Attrs) Float(name string, def float64) (float64, error) {
	v, ok := a[name]
	if !ok {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("attribute %q: expected a number, got %T", name, v)
	}
}

// String returns attribute name as a string, or def when it is absent.
func (a Attrs) String(name, def string) (string, error) {
	v, ok := a[name]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("attribute %q: expected a string, got %T", name, v)
	}
	return s, nil
}

// Bool returns attribute name as a bool, or def when it is absent.
func (a Attrs) Bool(name string, def bool) (bool, error) {
	v, ok := a[name]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("attribute %q: expected a bool, got %T", name, v)
	}
	return b, nil
}

// Ints returns attribute name as a list of ints.
func (a Attrs) Ints(name string) ([]int, error) {
	v, ok := a[name]
	if !ok {
		return nil, nil
	}
	switch x := v.(type) {
	case []int:
		return x, nil
	case []any:
		out := make([]int, len(x))
		for i, e := range x {
			n, err := Attrs{name: e}.Int(name, 0)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("attribute %q: expected a list of numbers, got %T", name, v)
	}
}

// Constructor creates a spec from declared attributes.
type Constructor[B tensor.Backend] func(attrs Attrs) (*layer.Spec[B], error)

// Registry maps layer kind names, as used in model files, to constructors.
type Registry[B tensor.Backend] struct {
	constructors map[string]Constructor[B]
}

// NewRegistry creates a Registry holding the bundled layers and the branch markers
// "branch" and "close".
func NewRegistry[B tensor.Backend]() *Registry[B] {
	r := &Registry[B]{constructors: make(map[string]Constructor[B])}
	r.Register("branch", func(Attrs) (*layer.Spec[B], error) { return layer.Open[B](), nil })
	r.Register("close", func(Attrs) (*layer.Spec[B], error) { return layer.Close[B](), nil })

	r.Register("dense", func(a Attrs) (*layer.Spec[B], error) {
		units, err := a.Int("units", 0)
		if err != nil {
			return nil, err
		}
		bias, err := a.Bool("bias", true)
		if err != nil {
			return nil, err
		}
		if !bias {
			return DenseNoBias[B](units), nil
		}
		return Dense[B](units), nil
	})
	r.Register("conv2d", func(a Attrs) (*layer.Spec[B], error) {
		var vals [4]int
		var err error
		for i, f := range []struct {
			name string
			def  int
		}{{"filters", 0}, {"kernel", 3}, {"stride", 1}, {"padding", 0}} {
			if vals[i], err = a.Int(f.name, f.def); err != nil {
				return nil, err
			}
		}
		return Conv2D[B](vals[0], vals[1], vals[2], vals[3]), nil
	})
	r.Register("maxpool2d", func(a Attrs) (*layer.Spec[B], error) {
		size, err := a.Int("size", 2)
		if err != nil {
			return nil, err
		}
		stride, err := a.Int("stride", size)
		if err != nil {
			return nil, err
		}
		return MaxPool2D[B](size, stride), nil
	})
	r.Register("flatten", func(Attrs) (*layer.Spec[B], error) { return Flatten[B](), nil })
	r.Register("reshape", func(a Attrs) (*layer.Spec[B], error) {
		dims, err := a.Ints("dims")
		if err != nil {
			return nil, err
		}
		return Reshape[B](dims...), nil
	})
	r.Register("activation", func(a Attrs) (*layer.Spec[B], error) {
		fn, err := a.String("fn", "")
		if err != nil {
			return nil, err
		}
		return Activation[B](fn), nil
	})
	for _, name := range Activations() {
		r.Register(name, func(Attrs) (*layer.Spec[B], error) { return Activation[B](name), nil })
	}
	r.Register("dropout", func(a Attrs) (*layer.Spec[B], error) {
		rate, err := a.Float("rate", 0.5)
		if err != nil {
			return nil, err
		}
		return Dropout[B](rate), nil
	})
	r.Register("layernorm", func(a Attrs) (*layer.Spec[B], error) {
		eps, err := a.Float("epsilon", 1e-5)
		if err != nil {
			return nil, err
		}
		return LayerNorm[B](float32(eps)), nil
	})

	r.Register("concat", func(a Attrs) (*layer.Spec[B], error) {
		axis, err := a.Int("axis", -1)
		if err != nil {
			return nil, err
		}
		return withArity(Concat[B](axis), a)
	})
	r.Register("add", func(a Attrs) (*layer.Spec[B], error) { return withArity(Add[B](), a) })
	r.Register("mean", func(a Attrs) (*layer.Spec[B], error) { return withArity(Mean[B](), a) })
	r.Register("multiply", func(a Attrs) (*layer.Spec[B], error) { return withArity(Multiply[B](), a) })
	return r
}

func withArity[B tensor.Backend](s *layer.Spec[B], a Attrs) (*layer.Spec[B], error) {
	n, err := a.Int("branches", 0)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("attribute %q: must not be negative", "branches")
	}
	if n == 0 {
		return s, nil
	}
	return WithArity(s, n), nil
}

// Register adds or replaces the constructor for kind.
func (r *Registry[B]) Register(kind string, c Constructor[B]) {
	r.constructors[kind] = c
}

// Kinds returns the registered kind names, sorted.
func (r *Registry[B]) Kinds() []string {
	kinds := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New creates a spec of the given kind.
func (r *Registry[B]) New(kind string, attrs Attrs) (*layer.Spec[B], error) {
	c, ok := r.constructors[kind]
	if !ok {
		return nil, fmt.Errorf("unknown layer kind %q", kind)
	}
	s, err := c(attrs)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", kind, err)
	}
	return s, nil
}
