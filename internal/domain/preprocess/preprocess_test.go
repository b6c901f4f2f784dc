package preprocess

import (
	"errors"
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/fundus/internal/domain/pixels"
)

const tolerance = 1e-6

func gradient(shape []int) pixels.Array {
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]uint8, n)
	for i := range data {
		data[i] = uint8((i * 7) % 256)
	}
	a, err := pixels.New(shape, data)
	if err != nil {
		panic(err)
	}
	return a
}

func TestPreprocessGrayscale(t *testing.T) {
	Convey("Given a 128x128 grayscale array", t, func() {
		a := gradient([]int{128, 128})

		Convey("When preprocessing", func() {
			out, err := Preprocess(a)
			So(err, ShouldBeNil)

			Convey("Then the shape is (1,128,128,1)", func() {
				So(out.Shape().Eq(InputShape()), ShouldBeTrue)
			})

			Convey("And every element equals input/255", func() {
				data, err := Float32s(out)
				So(err, ShouldBeNil)
				So(len(data), ShouldEqual, 128*128)
				for i, v := range a.Data {
					if math.Abs(float64(data[i])-float64(v)/255.0) > tolerance {
						t.Fatalf("element %d: got %v want %v", i, data[i], float64(v)/255.0)
					}
				}
			})

			Convey("And element access follows (batch,y,x,channel)", func() {
				v, err := out.At(0, 3, 5, 0)
				So(err, ShouldBeNil)
				So(v.(float32), ShouldAlmostEqual, float32(float64(a.Data[3*128+5])/255.0), tolerance)
			})
		})
	})

	Convey("Given a grayscale array of another size", t, func() {
		a := gradient([]int{300, 200})

		Convey("Then it is resized to (1,128,128,1)", func() {
			out, err := Preprocess(a)
			So(err, ShouldBeNil)
			So(out.Shape().Eq(InputShape()), ShouldBeTrue)
		})
	})
}

func TestPreprocessColour(t *testing.T) {
	Convey("Given 3-channel arrays of arbitrary sizes", t, func() {
		for _, shape := range [][]int{{128, 128, 3}, {64, 64, 3}, {512, 384, 3}, {17, 401, 3}, {1, 1, 3}, {200, 100, 4}} {
			out, err := Preprocess(gradient(shape))
			So(err, ShouldBeNil)
			So(out.Shape().Eq(InputShape()), ShouldBeTrue)
		}
	})

	Convey("Given a colour array whose channels differ", t, func() {
		data := make([]uint8, 128*128*3)
		for i := 0; i < len(data); i += 3 {
			data[i], data[i+1], data[i+2] = 10, 200, 30
		}
		a, err := pixels.New([]int{128, 128, 3}, data)
		So(err, ShouldBeNil)

		Convey("Then only the green channel reaches the tensor", func() {
			out, err := Preprocess(a)
			So(err, ShouldBeNil)
			values, err := Float32s(out)
			So(err, ShouldBeNil)
			for _, v := range values {
				if math.Abs(float64(v)-200.0/255.0) > tolerance {
					t.Fatalf("got %v, want green 200/255", v)
				}
			}
		})
	})

	Convey("Given a uniform colour array of another size", t, func() {
		data := make([]uint8, 50*70*3)
		for i := 0; i < len(data); i += 3 {
			data[i], data[i+1], data[i+2] = 0, 255, 0
		}
		a, err := pixels.New([]int{50, 70, 3}, data)
		So(err, ShouldBeNil)

		Convey("Then values stay within [0,1] after resizing", func() {
			out, err := Preprocess(a)
			So(err, ShouldBeNil)
			values, _ := Float32s(out)
			for _, v := range values {
				So(v >= 0 && v <= 1, ShouldBeTrue)
			}
		})
	})
}

func TestPreprocessUnsupportedRank(t *testing.T) {
	Convey("Given arrays of rank 1 and rank 4", t, func() {
		for _, shape := range [][]int{{16}, {1, 8, 8, 3}, {2, 2, 2, 2, 2}} {
			out, err := Preprocess(gradient(shape))

			So(out, ShouldBeNil)
			So(errors.Is(err, ErrUnsupportedShape), ShouldBeTrue)
		}
	})

	Convey("Given an empty array", t, func() {
		out, err := Preprocess(pixels.Array{})
		So(out, ShouldBeNil)
		So(errors.Is(err, ErrUnsupportedShape), ShouldBeTrue)
	})
}

func TestPreprocessDeterministic(t *testing.T) {
	Convey("Given the same colour array twice", t, func() {
		a := gradient([]int{300, 250, 3})

		first, err := Preprocess(a)
		So(err, ShouldBeNil)
		second, err := Preprocess(a)
		So(err, ShouldBeNil)

		Convey("Then the tensors are identical", func() {
			x, _ := Float32s(first)
			y, _ := Float32s(second)
			So(x, ShouldResemble, y)
		})
	})
}
