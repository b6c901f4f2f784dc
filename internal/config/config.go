// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file and FUNDUS_* env vars.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"fmt"
	"strings"
)

// Variant names understood by the service.
const (
	VariantAge    = "age"
	VariantCardio = "cardio"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoder: console or json.
	LogFormat string `koanf:"log_format"`

	// LogFile, when set, also writes logs to a rotated file.
	LogFile string `koanf:"log_file"`

	// Addr configures the HTTP listen address, e.g. ":8501".
	Addr string `koanf:"addr"`

	// Variant selects the presentation: "age" or "cardio".
	Variant string `koanf:"variant"`

	// ModelPath overrides the variant's default model file.
	ModelPath string `koanf:"model_path"`

	// OnnxLibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default lookup.
	OnnxLibraryPath string `koanf:"onnx_library_path"`

	// ModelInputName and ModelOutputName name the graph's tensors.
	ModelInputName  string `koanf:"model_input_name"`
	ModelOutputName string `koanf:"model_output_name"`

	// FailFast makes a model load failure fatal: the process exits. When
	// false the service stays up in degraded mode, /api/v1/status carries the
	// load error and every analysis is answered 503 model_unavailable.
	FailFast bool `koanf:"fail_fast"`

	// MaxUploadBytes caps the multipart body of POST /api/v1/analyze.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`

	// Workers is the number of pooled goroutines running forward passes. The
	// default zero runs the model directly on the request goroutine, so a slow
	// inference only blocks its own request; a pool is opt-in.
	Workers int `koanf:"workers"`

	// QueueCapacity bounds analysis jobs waiting for a worker; overflow is
	// answered with 503 busy.
	QueueCapacity int `koanf:"queue_capacity"`

	// ResultCacheSize is how many results are remembered by upload digest.
	// The default zero runs the model on every upload.
	ResultCacheSize int `koanf:"result_cache_size"`

	// MetricsEnabled turns request-path Prometheus recording on or off.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// WriteTimeoutS bounds response writes; it must cover a full inference.
	WriteTimeoutS int `koanf:"write_timeout_s"`

	// CORSAllowedOrigins lists origins allowed to call the JSON API.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "console",
		Addr:               ":8501",
		Variant:            VariantAge,
		ModelInputName:     "input",
		ModelOutputName:    "output",
		MaxUploadBytes:     10 << 20,
		Workers:            0,
		QueueCapacity:      8,
		ResultCacheSize:    0,
		MetricsEnabled:     true,
		WriteTimeoutS:      120,
		CORSAllowedOrigins: []string{"*"},
	}
}

// DefaultModelPath returns the fixed relative model file for a variant.
func DefaultModelPath(variant string) string {
	if variant == VariantCardio {
		return "heart_model.onnx"
	}
	return "age_model.onnx"
}

// ResolvedModelPath returns ModelPath or the variant default.
func (c *Config) ResolvedModelPath() string {
	if strings.TrimSpace(c.ModelPath) != "" {
		return c.ModelPath
	}
	return DefaultModelPath(c.Variant)
}

// Validate checks invariants that defaults and overrides must keep.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.Variant {
	case VariantAge, VariantCardio:
	default:
		return fmt.Errorf("%w: unknown variant %q (want %q or %q)", ErrInvalidConfig, c.Variant, VariantAge, VariantCardio)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: max_upload_bytes must be positive", ErrInvalidConfig)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrInvalidConfig)
	}
	if c.Workers > 0 && c.QueueCapacity <= 0 {
		return fmt.Errorf("%w: queue_capacity must be positive when workers are enabled", ErrInvalidConfig)
	}
	if c.ResultCacheSize < 0 {
		return fmt.Errorf("%w: result_cache_size must not be negative", ErrInvalidConfig)
	}
	if c.WriteTimeoutS <= 0 {
		return fmt.Errorf("%w: write_timeout_s must be positive", ErrInvalidConfig)
	}
	return nil
}
