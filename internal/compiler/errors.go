package compiler

import "fmt"

// StructuralError reports an ill-formed layer sequence: unbalanced branch markers,
// a Join with no open branch group, a join arity mismatch or a parameter name clash.
type StructuralError struct {
	Position int    // index of the offending spec in the declared sequence
	Layer    string // description of the offending spec
	Reason   string
	Err      error // underlying cause, may be nil
}

// Error implements the error interface.
func (e *StructuralError) Error() string {
	msg := fmt.Sprintf("structural error at layer %d (%s): %s", e.Position, e.Layer, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StructuralError) Unwrap() error {
	return e.Err
}

// NotImplementedError reports a spec that lacks the capability its position requires,
// e.g. a value with no build step, or a non-Join placed where a Join is required.
type NotImplementedError struct {
	Position   int
	Layer      string
	Capability string // "build" or "join"
	Reason     string
}

// Error implements the error interface.
func (e *NotImplementedError) Error() string {
	msg := fmt.Sprintf("layer %d (%s) does not implement %s", e.Position, e.Layer, e.Capability)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// BuildError wraps any other failure of a layer's build step.
type BuildError struct {
	Position int
	Layer    string
	Err      error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	return fmt.Sprintf("build layer %d (%s): %v", e.Position, e.Layer, e.Err)
}

// Unwrap returns the build failure.
func (e *BuildError) Unwrap() error {
	return e.Err
}
