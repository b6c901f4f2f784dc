package pixels

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// Interpolation is the kernel used for every resize in the pipeline.
var Interpolation = resize.Bilinear

// Resize scales a rank-2 or rank-3 array to height x width. Each channel
// plane is filtered independently with the same kernel, so every channel of
// the result is resized consistently. An array already at the target size is
// returned unchanged.
func Resize(a Array, height, width int) (Array, error) {
	if height <= 0 || width <= 0 {
		return Array{}, fmt.Errorf("%w: target %dx%d", ErrShape, height, width)
	}
	if a.Rank() != 2 && a.Rank() != 3 {
		return Array{}, fmt.Errorf("%w: resize needs rank 2 or 3, got %d", ErrShape, a.Rank())
	}
	if a.Height() == height && a.Width() == width {
		return a, nil
	}

	ch := a.Channels()
	out := make([]uint8, height*width*ch)
	for c := 0; c < ch; c++ {
		plane, err := a.Plane(c)
		if err != nil {
			return Array{}, err
		}
		scaled := toGray(resize.Resize(uint(width), uint(height), plane, Interpolation))
		for i, v := range scaled.Pix {
			out[i*ch+c] = v
		}
	}

	shape := []int{height, width}
	if a.Rank() == 3 {
		shape = append(shape, ch)
	}
	return Array{Shape: shape, Data: out}, nil
}

// toGray normalizes the resize output to a tightly packed *image.Gray.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) && g.Stride == b.Dx() {
		return g
	}
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return g
}
