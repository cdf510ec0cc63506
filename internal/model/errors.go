package model

import (
	"errors"
	"fmt"
)

// ErrNoData is returned when Fit or Eval is given an empty dataset.
var ErrNoData = errors.New("no samples")

// ExecutionError reports a failure while the engine ran a batch. Panics raised by the
// backend are caught and carried in Panic.
type ExecutionError struct {
	Op    string // "fit", "eval" or "predict"
	Epoch int    // 1-based; 0 outside Fit
	Batch int    // 0-based batch index within the epoch
	Panic any
	Err   error
}

func (e *ExecutionError) Error() string {
	where := e.Op
	if e.Op == "fit" {
		where = fmt.Sprintf("fit epoch %d batch %d", e.Epoch, e.Batch)
	} else if e.Op == "eval" {
		where = fmt.Sprintf("eval batch %d", e.Batch)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", where, e.Err)
	}
	return fmt.Sprintf("%s: engine panic: %v", where, e.Panic)
}

func (e *ExecutionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if err, ok := e.Panic.(error); ok {
		return err
	}
	return nil
}
