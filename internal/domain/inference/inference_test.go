package inference_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"gorgonia.org/tensor"

	"github.com/okian/fundus/internal/domain/inference"
	"github.com/okian/fundus/internal/domain/pixels"
	"github.com/okian/fundus/internal/domain/preprocess"
)

func constant(v float32) inference.PredictorFunc {
	return func(_ context.Context, _ *tensor.Dense) ([][]float32, error) {
		return [][]float32{{v}}, nil
	}
}

func grayArray(h, w int) pixels.Array {
	a, err := pixels.New([]int{h, w}, make([]uint8, h*w))
	if err != nil {
		panic(err)
	}
	return a
}

func TestAdapterPredict(t *testing.T) {
	Convey("Given an adapter over a constant predictor", t, func() {
		adapter := inference.NewAdapter(constant(42))

		Convey("When predicting a valid image", func() {
			v, err := adapter.Predict(context.Background(), grayArray(200, 150))

			Convey("Then the [0][0] element is returned", func() {
				So(err, ShouldBeNil)
				So(v, ShouldEqual, 42.0)
			})
		})

		Convey("When the model answers a float32 at the risk cutoff", func() {
			v, err := inference.NewAdapter(constant(0.9)).Predict(context.Background(), grayArray(128, 128))

			Convey("Then the decimal value is kept", func() {
				So(err, ShouldBeNil)
				So(v, ShouldEqual, 0.9)
			})
		})

		Convey("When predicting an array of unsupported rank", func() {
			bad, _ := pixels.New([]int{4}, make([]uint8, 4))
			_, err := adapter.Predict(context.Background(), bad)

			Convey("Then a preprocessing error is returned", func() {
				So(errors.Is(err, inference.ErrPreprocessing), ShouldBeTrue)
				So(errors.Is(err, preprocess.ErrUnsupportedShape), ShouldBeTrue)
				So(errors.Is(err, inference.ErrInference), ShouldBeFalse)
			})
		})
	})

	Convey("Given a predictor that receives the tensor", t, func() {
		var gotShape tensor.Shape
		adapter := inference.NewAdapter(inference.PredictorFunc(func(_ context.Context, in *tensor.Dense) ([][]float32, error) {
			gotShape = in.Shape().Clone()
			return [][]float32{{1}}, nil
		}))

		_, err := adapter.Predict(context.Background(), grayArray(64, 64))

		Convey("Then it sees the (1,128,128,1) input", func() {
			So(err, ShouldBeNil)
			So(gotShape.Eq(preprocess.InputShape()), ShouldBeTrue)
		})
	})

	Convey("Given failing predictors", t, func() {
		Convey("When the predictor returns an error", func() {
			boom := errors.New("session run failed")
			adapter := inference.NewAdapter(inference.PredictorFunc(func(context.Context, *tensor.Dense) ([][]float32, error) {
				return nil, boom
			}))
			_, err := adapter.Predict(context.Background(), grayArray(128, 128))

			Convey("Then it surfaces as an inference error", func() {
				So(errors.Is(err, inference.ErrInference), ShouldBeTrue)
				So(errors.Is(err, boom), ShouldBeTrue)
			})
		})

		Convey("When the predictor panics", func() {
			adapter := inference.NewAdapter(inference.PredictorFunc(func(context.Context, *tensor.Dense) ([][]float32, error) {
				panic("native crash")
			}))

			Convey("Then the panic is recovered as an inference error", func() {
				var err error
				So(func() { _, err = adapter.Predict(context.Background(), grayArray(128, 128)) }, ShouldNotPanic)
				So(errors.Is(err, inference.ErrInference), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "native crash")
			})
		})

		Convey("When the predictor returns an empty matrix", func() {
			adapter := inference.NewAdapter(inference.PredictorFunc(func(context.Context, *tensor.Dense) ([][]float32, error) {
				return [][]float32{{}}, nil
			}))
			_, err := adapter.Predict(context.Background(), grayArray(128, 128))

			Convey("Then it is an inference error", func() {
				So(errors.Is(err, inference.ErrInference), ShouldBeTrue)
			})
		})
	})
}

type countingPredictor struct {
	active  int32
	maxSeen int32
	safe    bool
}

func (c *countingPredictor) Predict(context.Context, *tensor.Dense) ([][]float32, error) {
	n := atomic.AddInt32(&c.active, 1)
	for {
		m := atomic.LoadInt32(&c.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&c.maxSeen, m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&c.active, -1)
	return [][]float32{{0}}, nil
}

func (c *countingPredictor) ConcurrentSafe() bool { return c.safe }

func TestAdapterSerialization(t *testing.T) {
	Convey("Given a predictor that is not concurrency safe", t, func() {
		p := &countingPredictor{}
		adapter := inference.NewAdapter(p)

		Convey("When many requests predict at once", func() {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = adapter.Predict(context.Background(), grayArray(128, 128))
				}()
			}
			wg.Wait()

			Convey("Then calls never overlap", func() {
				So(atomic.LoadInt32(&p.maxSeen), ShouldEqual, 1)
			})
		})
	})
}
