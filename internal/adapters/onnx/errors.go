package onnx

import "errors"

// Sentinel kinds for the ONNX backend.
var (
	ErrEnvironment = errors.New("onnx runtime environment")
	ErrSession     = errors.New("onnx session")
	ErrInputShape  = errors.New("onnx input shape mismatch")
	ErrClosed      = errors.New("onnx session closed")
)
