package probe

import (
	"errors"
	"fmt"
)

// Sentinel kinds for probe failures.
var (
	ErrRequest  = errors.New("probe request failed")
	ErrResponse = errors.New("unexpected probe response")
	ErrNoImages = errors.New("no images given")
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
}
