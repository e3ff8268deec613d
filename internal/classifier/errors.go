package classifier

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when a tensor does not match the loaded model input.
var ErrShapeMismatch = errors.New("input shape mismatch")

// ModelLoadError reports a missing or malformed model artifact. It is only
// produced at startup and must stop the process from serving.
type ModelLoadError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ModelLoadError) Error() string {
	if e == nil || e.Err == nil {
		return "load model"
	}
	return fmt.Sprintf("load model %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ModelLoadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// InferenceError reports a failed runtime invocation for a single request.
type InferenceError struct {
	Err error
}

// Error implements the error interface.
func (e *InferenceError) Error() string {
	if e == nil || e.Err == nil {
		return "inference failed"
	}
	return fmt.Sprintf("inference failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *InferenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
