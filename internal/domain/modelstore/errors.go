package modelstore

import "errors"

// ErrModelLoad matches every *LoadError via errors.Is.
var ErrModelLoad = errors.New("model load failed")

// LoadError records why the model could not be provided. Message is safe to
// show to users.
type LoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string { return e.Message }

// Unwrap returns the underlying failure, if any.
func (e *LoadError) Unwrap() error { return e.Cause }

// Is reports ErrModelLoad as a match.
func (e *LoadError) Is(target error) bool { return target == ErrModelLoad }
