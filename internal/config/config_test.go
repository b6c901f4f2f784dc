package config_test

import (
	"errors"
	"testing"

	"github.com/okian/fundus/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":8501")
			convey.So(cfg.Variant, convey.ShouldEqual, config.VariantAge)
			convey.So(cfg.ModelInputName, convey.ShouldEqual, "input")
			convey.So(cfg.ModelOutputName, convey.ShouldEqual, "output")
			convey.So(cfg.MaxUploadBytes, convey.ShouldEqual, 10<<20)
			convey.So(cfg.FailFast, convey.ShouldBeFalse)
			convey.So(cfg.QueueCapacity, convey.ShouldEqual, 8)
			convey.So(cfg.MetricsEnabled, convey.ShouldBeTrue)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then every analysis runs the model on its own request", func() {
			convey.So(cfg.Workers, convey.ShouldEqual, 0)
			convey.So(cfg.ResultCacheSize, convey.ShouldEqual, 0)
		})
	})
}

func TestConfig_ResolvedModelPath(t *testing.T) {
	convey.Convey("Given a config", t, func() {
		cfg := config.New()

		convey.Convey("Then the age variant uses age_model.onnx", func() {
			convey.So(cfg.ResolvedModelPath(), convey.ShouldEqual, "age_model.onnx")
		})

		convey.Convey("Then the cardio variant uses heart_model.onnx", func() {
			cfg.Variant = config.VariantCardio
			convey.So(cfg.ResolvedModelPath(), convey.ShouldEqual, "heart_model.onnx")
		})

		convey.Convey("Then an explicit model path wins", func() {
			cfg.ModelPath = "/models/custom.onnx"
			convey.So(cfg.ResolvedModelPath(), convey.ShouldEqual, "/models/custom.onnx")
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given invalid configs", t, func() {
		convey.Convey("Then an unknown variant is rejected", func() {
			cfg := config.New()
			cfg.Variant = "eyes"
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "unknown variant")
		})

		convey.Convey("Then a non-positive upload limit is rejected", func() {
			cfg := config.New()
			cfg.MaxUploadBytes = 0
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("Then a negative worker count is rejected", func() {
			cfg := config.New()
			cfg.Workers = -1
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("Then workers without queue room are rejected", func() {
			cfg := config.New()
			cfg.Workers = 2
			cfg.QueueCapacity = 0
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("Then a negative cache size is rejected", func() {
			cfg := config.New()
			cfg.ResultCacheSize = -1
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("Then direct mode needs no queue", func() {
			cfg := config.New()
			cfg.Workers = 0
			cfg.QueueCapacity = 0
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then a non-positive write timeout is rejected", func() {
			cfg := config.New()
			cfg.WriteTimeoutS = -1
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}
