package modelstore_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"gorgonia.org/tensor"

	"github.com/okian/fundus/internal/domain/inference"
	"github.com/okian/fundus/internal/domain/modelstore"
	"github.com/okian/fundus/internal/domain/variant"
)

type closingPredictor struct {
	closed int32
}

func (c *closingPredictor) Predict(context.Context, *tensor.Dense) ([][]float32, error) {
	return [][]float32{{1}}, nil
}

func (c *closingPredictor) Close() error {
	atomic.AddInt32(&c.closed, 1)
	return nil
}

func tempModel() (string, func()) {
	dir, err := os.MkdirTemp("", "fundus-model-*")
	if err != nil {
		panic(err)
	}
	path := filepath.Join(dir, "age_model.onnx")
	if err := os.WriteFile(path, []byte("onnx"), 0o600); err != nil {
		panic(err)
	}
	return path, func() { _ = os.RemoveAll(dir) }
}

func TestStoreMissingFile(t *testing.T) {
	Convey("Given a store pointing at a nonexistent path", t, func() {
		var opened int32
		path := filepath.Join(os.TempDir(), "definitely-missing", "heart_model.onnx")
		store := modelstore.New(path, func(context.Context, string) (inference.Predictor, error) {
			atomic.AddInt32(&opened, 1)
			return &closingPredictor{}, nil
		}, modelstore.WithMissingMessage(variant.Cardio().MissingModelMessage))

		Convey("When loading", func() {
			var (
				p   inference.Predictor
				err error
			)
			So(func() { p, err = store.Load(context.Background()) }, ShouldNotPanic)

			Convey("Then no predictor is returned and the message names the path", func() {
				So(p, ShouldBeNil)
				So(errors.Is(err, modelstore.ErrModelLoad), ShouldBeTrue)
				So(errors.Is(err, fs.ErrNotExist), ShouldBeTrue)

				var le *modelstore.LoadError
				So(errors.As(err, &le), ShouldBeTrue)
				So(le.Path, ShouldEqual, path)
				So(le.Message, ShouldContainSubstring, path)
				So(le.Message, ShouldContainSubstring, "train_heart_model.py")
				So(atomic.LoadInt32(&opened), ShouldEqual, 0)
			})

			Convey("Then status reports the stored message", func() {
				loaded, ready, msg := store.Status()
				So(loaded, ShouldBeTrue)
				So(ready, ShouldBeFalse)
				So(msg, ShouldContainSubstring, "not found")
			})
		})
	})
}

func TestStoreLoadOnce(t *testing.T) {
	Convey("Given a store over an existing file", t, func() {
		path, cleanup := tempModel()
		defer cleanup()

		var opened int32
		pred := &closingPredictor{}
		var openedPath atomic.Value
		store := modelstore.New(path, func(_ context.Context, p string) (inference.Predictor, error) {
			atomic.AddInt32(&opened, 1)
			openedPath.Store(p)
			return pred, nil
		})

		Convey("When many callers load concurrently", func() {
			var wg sync.WaitGroup
			results := make([]inference.Predictor, 16)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], _ = store.Load(context.Background())
				}(i)
			}
			wg.Wait()

			Convey("Then the opener ran exactly once and all got the same predictor", func() {
				So(atomic.LoadInt32(&opened), ShouldEqual, 1)
				So(openedPath.Load(), ShouldEqual, path)
				for _, r := range results {
					So(r, ShouldEqual, pred)
				}
			})
		})

		Convey("When the store is closed", func() {
			_, err := store.Load(context.Background())
			So(err, ShouldBeNil)
			So(store.Close(), ShouldBeNil)

			Convey("Then the predictor is released and no longer served", func() {
				So(atomic.LoadInt32(&pred.closed), ShouldEqual, 1)
				_, err := store.Load(context.Background())
				So(errors.Is(err, modelstore.ErrModelLoad), ShouldBeTrue)
			})
		})

		Convey("Then status before loading is empty", func() {
			loaded, ready, msg := store.Status()
			So(loaded, ShouldBeFalse)
			So(ready, ShouldBeFalse)
			So(msg, ShouldEqual, "")
		})
	})
}

func TestStoreOpenFailure(t *testing.T) {
	Convey("Given an opener that fails", t, func() {
		path, cleanup := tempModel()
		defer cleanup()

		boom := errors.New("invalid protobuf")
		var calls int32
		store := modelstore.New(path, func(context.Context, string) (inference.Predictor, error) {
			atomic.AddInt32(&calls, 1)
			return nil, boom
		})

		Convey("Then the failure text is stored and cached", func() {
			_, err1 := store.Load(context.Background())
			_, err2 := store.Load(context.Background())
			So(err1, ShouldEqual, err2)
			So(err1.Error(), ShouldEqual, "invalid protobuf")
			So(errors.Is(err1, boom), ShouldBeTrue)
			So(atomic.LoadInt32(&calls), ShouldEqual, 1)
		})
	})

	Convey("Given an opener that panics", t, func() {
		path, cleanup := tempModel()
		defer cleanup()

		store := modelstore.New(path, func(context.Context, string) (inference.Predictor, error) {
			panic("bad graph")
		})

		Convey("Then the panic becomes a load error", func() {
			var err error
			So(func() { _, err = store.Load(context.Background()) }, ShouldNotPanic)
			So(errors.Is(err, modelstore.ErrModelLoad), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "bad graph")
		})
	})
}
