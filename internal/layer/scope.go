package layer

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/born-ml/born/tensor"
)

// Scope is handed to build steps. It carries the backend parameters are allocated
// on and the naming prefix of the layer being built.
type Scope[B tensor.Backend] struct {
	backend B
	path    []string
}

// NewScope creates a root scope on backend.
func NewScope[B tensor.Backend](backend B) *Scope[B] {
	return &Scope[B]{backend: backend}
}

// Backend returns the backend parameters must be created on.
func (s *Scope[B]) Backend() B {
	return s.backend
}

// At returns a child scope for the layer declared at position.
func (s *Scope[B]) At(position int) *Scope[B] {
	return s.In(fmt.Sprintf("%d", position))
}

// In returns a child scope with name appended to the path.
func (s *Scope[B]) In(name string) *Scope[B] {
	path := make([]string, len(s.path), len(s.path)+1)
	copy(path, s.path)
	return &Scope[B]{backend: s.backend, path: append(path, name)}
}

// Path returns the dotted scope path.
func (s *Scope[B]) Path() string {
	return strings.Join(s.path, ".")
}

// Name returns the fully qualified parameter name for local.
func (s *Scope[B]) Name(local string) string {
	if len(s.path) == 0 {
		return local
	}
	return s.Path() + "." + local
}

// Execution is the per-run context passed to transforms.
//
// Training switches stochastic layers (dropout) on. The random source is seeded so
// runs are reproducible; it is safe for concurrent use.
type Execution struct {
	training bool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewExecution creates an Execution.
func NewExecution(training bool, seed uint64) *Execution {
	return &Execution{
		training: training,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Inference returns a deterministic, non-training Execution.
func Inference() *Execution {
	return NewExecution(false, 0)
}

// Training reports whether the run is a training run.
func (e *Execution) Training() bool {
	return e != nil && e.training
}

// Float32 returns a pseudo-random number in [0, 1).
func (e *Execution) Float32() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float32()
}
