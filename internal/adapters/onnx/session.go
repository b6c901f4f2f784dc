// Package onnx runs the regression model with ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"

	"github.com/okian/fundus/internal/domain/inference"
	"github.com/okian/fundus/internal/domain/preprocess"
)

// Default graph tensor names.
const (
	DefaultInputName  = "input"
	DefaultOutputName = "output"
)

// Option configures Open.
type Option func(*options)

type options struct {
	libraryPath string
	inputName   string
	outputName  string
	inputShape  []int
	outputShape []int
}

// WithLibraryPath sets the onnxruntime shared library location.
func WithLibraryPath(path string) Option {
	return func(o *options) {
		o.libraryPath = path
	}
}

// WithTensorNames sets the graph's input and output names.
func WithTensorNames(input, output string) Option {
	return func(o *options) {
		if input != "" {
			o.inputName = input
		}
		if output != "" {
			o.outputName = output
		}
	}
}

// WithOutputShape overrides the (1,1) regression output shape.
func WithOutputShape(shape ...int) Option {
	return func(o *options) {
		if len(shape) > 0 {
			o.outputShape = shape
		}
	}
}

var envMu sync.Mutex

// initEnvironment starts the process-wide runtime once.
func initEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: %w", ErrEnvironment, err)
	}
	return nil
}

// Session is a loaded model with pre-allocated input and output tensors.
// Run reuses those tensors, so Predict calls are serialized.
type Session struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputShape   tensor.Shape
	outputShape  []int
}

var _ inference.Predictor = (*Session)(nil)

// Open loads the model at path.
func Open(_ context.Context, path string, opts ...Option) (*Session, error) {
	o := options{
		inputName:   DefaultInputName,
		outputName:  DefaultOutputName,
		inputShape:  preprocess.InputShape(),
		outputShape: []int{1, 1},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := initEnvironment(o.libraryPath); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](toShape(o.inputShape))
	if err != nil {
		return nil, fmt.Errorf("%w: create input tensor: %w", ErrSession, err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](toShape(o.outputShape))
	if err != nil {
		return nil, multierr.Append(
			fmt.Errorf("%w: create output tensor: %w", ErrSession, err),
			inputTensor.Destroy())
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{o.inputName}, []string{o.outputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		return nil, multierr.Combine(
			fmt.Errorf("%w: load %s: %w", ErrSession, path, err),
			inputTensor.Destroy(),
			outputTensor.Destroy())
	}

	return &Session{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputShape:   tensor.Shape(o.inputShape).Clone(),
		outputShape:  append([]int(nil), o.outputShape...),
	}, nil
}

// Opener adapts Open to the model store.
func Opener(opts ...Option) func(ctx context.Context, path string) (inference.Predictor, error) {
	return func(ctx context.Context, path string) (inference.Predictor, error) {
		s, err := Open(ctx, path, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Predict runs one forward pass and returns the output as rows.
func (s *Session) Predict(_ context.Context, in *tensor.Dense) ([][]float32, error) {
	data, err := checkInput(s.inputShape, in)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, ErrClosed
	}

	copy(s.inputTensor.GetData(), data)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: run: %w", ErrSession, err)
	}
	return toRows(s.outputTensor.GetData(), s.outputShape), nil
}

// Close destroys the session and its tensors. The runtime environment stays
// up for other sessions.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.session != nil {
		err = multierr.Append(err, s.session.Destroy())
		s.session = nil
	}
	if s.inputTensor != nil {
		err = multierr.Append(err, s.inputTensor.Destroy())
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		err = multierr.Append(err, s.outputTensor.Destroy())
		s.outputTensor = nil
	}
	return err
}

// Shutdown tears down the process-wide runtime.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

func checkInput(want tensor.Shape, in *tensor.Dense) ([]float32, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: nil tensor", ErrInputShape)
	}
	if !in.Shape().Eq(want) {
		return nil, fmt.Errorf("%w: got %v want %v", ErrInputShape, in.Shape(), want)
	}
	data, ok := in.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: dtype %v, want float32", ErrInputShape, in.Dtype())
	}
	return data, nil
}

func toShape(dims []int) ort.Shape {
	out := make([]int64, len(dims))
	for i, d := range dims {
		out[i] = int64(d)
	}
	return ort.NewShape(out...)
}

// toRows reshapes a flat output into rows of the last dimension.
func toRows(flat []float32, shape []int) [][]float32 {
	cols := 1
	if len(shape) > 0 {
		cols = shape[len(shape)-1]
	}
	if cols <= 0 {
		return nil
	}
	rows := make([][]float32, 0, len(flat)/cols)
	for i := 0; i+cols <= len(flat); i += cols {
		rows = append(rows, append([]float32(nil), flat[i:i+cols]...))
	}
	return rows
}
