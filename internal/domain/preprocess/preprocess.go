// Package preprocess turns a raw pixel array into the fixed (1,128,128,1)
// float tensor the fundus regression models consume.
package preprocess

import (
	"errors"
	"fmt"

	"gorgonia.org/tensor"

	"github.com/okian/fundus/internal/domain/pixels"
)

// ImageSize is the spatial size of the model input.
const ImageSize = 128

// maxPixel is the divisor that maps uint8 pixels into [0,1].
const maxPixel = 255.0

// ErrUnsupportedShape reports an input that is neither rank 2 nor rank 3.
var ErrUnsupportedShape = errors.New("unsupported image shape")

// InputShape is the tensor shape produced by Preprocess.
func InputShape() tensor.Shape {
	return tensor.Shape{1, ImageSize, ImageSize, 1}
}

// Preprocess converts a to a float32 tensor of shape (1,128,128,1).
//
// Rank-2 arrays are used directly as the working channel. Rank-3 arrays are
// resized to 128x128 across all channels before the green channel is taken.
// The working channel is then resized if needed, divided by 255 and given a
// leading batch axis and trailing channel axis. Arrays of any other rank
// yield ErrUnsupportedShape.
func Preprocess(a pixels.Array) (*tensor.Dense, error) {
	var working pixels.Array
	switch a.Rank() {
	case 2:
		working = a
	case 3:
		resized, err := pixels.Resize(a, ImageSize, ImageSize)
		if err != nil {
			return nil, fmt.Errorf("resize: %w", err)
		}
		working, err = resized.Channel(pixels.GreenChannel)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedShape, err)
		}
	default:
		return nil, fmt.Errorf("%w: rank %d", ErrUnsupportedShape, a.Rank())
	}

	if working.Height() != ImageSize || working.Width() != ImageSize {
		var err error
		working, err = pixels.Resize(working, ImageSize, ImageSize)
		if err != nil {
			return nil, fmt.Errorf("resize: %w", err)
		}
	}

	backing := make([]float32, len(working.Data))
	for i, v := range working.Data {
		backing[i] = float32(float64(v) / maxPixel)
	}

	return tensor.New(
		tensor.WithShape(InputShape()...),
		tensor.WithBacking(backing),
	), nil
}

// Float32s returns the backing slice of a tensor produced by Preprocess.
func Float32s(t *tensor.Dense) ([]float32, error) {
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor dtype %v, want float32", t.Dtype())
	}
	return data, nil
}
