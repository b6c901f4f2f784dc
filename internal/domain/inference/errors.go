package inference

import "errors"

// Sentinel kinds for the inference pipeline.
var (
	ErrPreprocessing = errors.New("preprocessing failed")
	ErrInference     = errors.New("inference failed")
)
