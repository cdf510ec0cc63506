package shape

import (
	"fmt"

	"github.com/born-ml/born/tensor"
)

// Error reports a layer rejecting its input shape.
//
// Layers return it from their build step through Errorf; the compiler fills in
// Position and Layer before surfacing it.
type Error struct {
	Position int          // Index of the layer in the declared sequence, -1 if unknown.
	Layer    string       // Description of the layer.
	Shape    tensor.Shape // The rejected input shape (or the first of several).
	Reason   string
	Err      error // Underlying cause, if any.
}

// Errorf creates an Error for the input shape s.
func Errorf(s tensor.Shape, format string, args ...any) *Error {
	return &Error{
		Position: -1,
		Shape:    s.Clone(),
		Reason:   fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Position >= 0 {
		return fmt.Sprintf("shape error at layer %d (%s): input %s: %s",
			e.Position, e.Layer, String(e.Shape), e.Reason)
	}
	return fmt.Sprintf("shape error: input %s: %s", String(e.Shape), e.Reason)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}
