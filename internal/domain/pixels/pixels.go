// Package pixels holds the raw numeric form of an uploaded image: a rank-2
// (H,W) grayscale array or a rank-3 (H,W,C) channel-interleaved array with
// values in [0,255].
package pixels

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// Sentinel kinds for this package.
var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrDecode            = errors.New("image decode failed")
	ErrShape             = errors.New("invalid array shape")
)

// GreenChannel is the channel index extracted from colour images.
const GreenChannel = 1

// Array is a dense uint8 pixel array in row-major (H, W[, C]) order.
type Array struct {
	Shape []int
	Data  []uint8
}

// New validates shape against len(data) and returns the Array.
func New(shape []int, data []uint8) (Array, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return Array{}, fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		}
		n *= d
	}
	if len(shape) == 0 || n != len(data) {
		return Array{}, fmt.Errorf("%w: shape %v does not hold %d values", ErrShape, shape, len(data))
	}
	return Array{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Rank returns the number of dimensions.
func (a Array) Rank() int { return len(a.Shape) }

// Height returns dimension 0, or 0 for rank-0 arrays.
func (a Array) Height() int {
	if len(a.Shape) < 1 {
		return 0
	}
	return a.Shape[0]
}

// Width returns dimension 1, or 0 when absent.
func (a Array) Width() int {
	if len(a.Shape) < 2 {
		return 0
	}
	return a.Shape[1]
}

// Channels returns dimension 2 for rank-3 arrays and 1 otherwise.
func (a Array) Channels() int {
	if len(a.Shape) != 3 {
		return 1
	}
	return a.Shape[2]
}

// FromImage converts a decoded image into an Array. Gray images become
// rank 2; everything else becomes rank 3 with three channels, or four when
// the colour model carries alpha.
func FromImage(img image.Image) Array {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()

	switch src := img.(type) {
	case *image.Gray:
		data := make([]uint8, 0, h*w)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := src.PixOffset(b.Min.X, y)
			data = append(data, src.Pix[off:off+w]...)
		}
		return Array{Shape: []int{h, w}, Data: data}
	case *image.Gray16:
		data := make([]uint8, 0, h*w)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				data = append(data, uint8(src.Gray16At(x, y).Y>>8))
			}
		}
		return Array{Shape: []int{h, w}, Data: data}
	}

	channels := 3
	if hasAlpha(img.ColorModel()) {
		channels = 4
	}

	nrgba, ok := img.(*image.NRGBA)
	if !ok || b.Min != (image.Point{}) || nrgba.Stride != 4*w {
		nrgba = image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}

	data := make([]uint8, 0, h*w*channels)
	for i := 0; i < len(nrgba.Pix); i += 4 {
		data = append(data, nrgba.Pix[i:i+channels]...)
	}
	return Array{Shape: []int{h, w, channels}, Data: data}
}

func hasAlpha(m color.Model) bool {
	switch m {
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model, color.AlphaModel, color.Alpha16Model:
		return true
	}
	return false
}

// Plane returns channel c of a rank-3 array, or the array itself for rank 2,
// as an *image.Gray of the same spatial size.
func (a Array) Plane(c int) (*image.Gray, error) {
	switch a.Rank() {
	case 2:
		if c != 0 {
			return nil, fmt.Errorf("%w: channel %d of a grayscale array", ErrShape, c)
		}
		g := image.NewGray(image.Rect(0, 0, a.Width(), a.Height()))
		copy(g.Pix, a.Data)
		return g, nil
	case 3:
		ch := a.Channels()
		if c < 0 || c >= ch {
			return nil, fmt.Errorf("%w: channel %d out of range [0,%d)", ErrShape, c, ch)
		}
		g := image.NewGray(image.Rect(0, 0, a.Width(), a.Height()))
		for i := range g.Pix {
			g.Pix[i] = a.Data[i*ch+c]
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w: rank %d", ErrShape, a.Rank())
	}
}

// Channel extracts channel c of a rank-3 array as a rank-2 array.
func (a Array) Channel(c int) (Array, error) {
	if a.Rank() != 3 {
		return Array{}, fmt.Errorf("%w: channel extraction needs rank 3, got %d", ErrShape, a.Rank())
	}
	g, err := a.Plane(c)
	if err != nil {
		return Array{}, err
	}
	return Array{Shape: []int{a.Height(), a.Width()}, Data: g.Pix}, nil
}
