// Package inference adapts a black-box regression predictor to raw pixel
// arrays: preprocess, predict once, read the single scalar.
package inference

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gorgonia.org/tensor"

	"github.com/okian/fundus/internal/domain/pixels"
	"github.com/okian/fundus/internal/domain/preprocess"
	"github.com/okian/fundus/pkg/metrics"
)

// Predictor is the only capability required from a model backend. For this
// service the output is a 1x1 matrix.
type Predictor interface {
	Predict(ctx context.Context, input *tensor.Dense) ([][]float32, error)
}

// ConcurrentPredictor is implemented by backends that tolerate concurrent
// Predict calls. Backends that do not implement it are serialized.
type ConcurrentPredictor interface {
	Predictor
	ConcurrentSafe() bool
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, input *tensor.Dense) ([][]float32, error)

// Predict calls f.
func (f PredictorFunc) Predict(ctx context.Context, input *tensor.Dense) ([][]float32, error) {
	return f(ctx, input)
}

// Adapter wires the preprocessor to a Predictor.
type Adapter struct {
	predictor Predictor
	serialize bool
	mu        sync.Mutex
}

// NewAdapter wraps p.
func NewAdapter(p Predictor) *Adapter {
	serialize := true
	if cp, ok := p.(ConcurrentPredictor); ok && cp.ConcurrentSafe() {
		serialize = false
	}
	return &Adapter{predictor: p, serialize: serialize}
}

// Predict preprocesses a and returns the model's scalar output.
// Preprocessing failures wrap ErrPreprocessing; predictor failures, panics
// and malformed outputs wrap ErrInference.
func (a *Adapter) Predict(ctx context.Context, img pixels.Array) (float64, error) {
	const op = "inference.predict"

	start := time.Now()
	input, err := preprocess.Preprocess(img)
	metrics.RecordPreprocessLatency(float64(time.Since(start).Microseconds()) / 1e3)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, ErrPreprocessing, err)
	}

	start = time.Now()
	out, err := a.call(ctx, input)
	metrics.RecordInferenceLatency(float64(time.Since(start).Microseconds()) / 1e3)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, ErrInference, err)
	}

	if len(out) == 0 || len(out[0]) == 0 {
		return 0, fmt.Errorf("%s: %w: empty model output", op, ErrInference)
	}
	return widen(out[0][0]), nil
}

// widen converts a model output to float64 through its shortest decimal
// form, so float32(0.9) becomes 0.9 rather than 0.8999999761581421.
func widen(v float32) float64 {
	f, err := strconv.ParseFloat(strconv.FormatFloat(float64(v), 'g', -1, 32), 64)
	if err != nil {
		return float64(v)
	}
	return f
}

func (a *Adapter) call(ctx context.Context, input *tensor.Dense) (out [][]float32, err error) {
	if a.serialize {
		a.mu.Lock()
		defer a.mu.Unlock()
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("predictor panic: %v", r)
		}
	}()
	return a.predictor.Predict(ctx, input)
}
