// Package service provides the core analysis service that implements
// the dependencies required by the HTTP API.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/okian/fundus/internal/adapters/mq/queue"
	"github.com/okian/fundus/internal/adapters/mq/worker"
	"github.com/okian/fundus/internal/domain/inference"
	"github.com/okian/fundus/internal/domain/modelstore"
	"github.com/okian/fundus/internal/domain/pixels"
	"github.com/okian/fundus/internal/domain/resultcache"
	"github.com/okian/fundus/internal/domain/variant"
	"github.com/okian/fundus/pkg/logger"
	"github.com/okian/fundus/pkg/metrics"
)

// defaultMaxUploadBytes bounds how much of an upload Analyze reads.
const defaultMaxUploadBytes = 10 << 20

// ErrNotStarted is returned by Analyze before Start has run.
var ErrNotStarted = errors.New("service not started")

// ErrUploadTooLarge is returned when an upload exceeds the configured limit.
var ErrUploadTooLarge = errors.New("upload too large")

// ErrBusy is returned when the analysis queue has no room.
var ErrBusy = errors.New("service busy")

// ModelStore provides the load-once predictor.
type ModelStore interface {
	Load(ctx context.Context) (inference.Predictor, error)
	Path() string
	Close() error
}

// Status is the readiness view served to the page.
type Status struct {
	Variant   string        `json:"variant"`
	Texts     variant.Texts `json:"texts"`
	Metric    string        `json:"metricLabel"`
	Threshold *float64      `json:"riskThreshold,omitempty"`
	Ready     bool          `json:"ready"`
	Error     string        `json:"error,omitempty"`
	ModelPath string        `json:"modelPath"`
}

// Service implements the API dependencies for one variant.
type Service struct {
	mu sync.RWMutex

	// Core components
	variant variant.Variant
	store   ModelStore
	adapter *inference.Adapter
	pool    *worker.Pool
	cache   resultcache.Cache

	// Configuration
	maxUploadBytes int64
	workers        int
	queueCapacity  int

	// State
	started bool
	loadErr error

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVariant selects the presentation variant.
func WithVariant(v variant.Variant) Option {
	return func(s *Service) {
		if v.Name != "" {
			s.variant = v
		}
	}
}

// WithModelStore sets the model provider.
func WithModelStore(store ModelStore) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithMaxUploadBytes caps the bytes read from one upload.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithWorkers runs forward passes on n pooled workers fed by a queue of
// capacity jobs. With n == 0 requests call the model directly.
func WithWorkers(n, capacity int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.workers = n
		}
		if capacity > 0 {
			s.queueCapacity = capacity
		}
	}
}

// WithResultCache remembers up to n results by upload digest. n <= 0
// disables the cache.
func WithResultCache(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cache = resultcache.New(resultcache.WithMaxSize(n))
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		variant:        variant.Age(),
		maxUploadBytes: defaultMaxUploadBytes,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start loads the model. A load failure leaves the service running in a
// degraded state where Status reports the message and Analyze refuses work;
// the error is also returned so callers can choose to exit.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return s.loadErr
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	if s.store == nil {
		s.store = modelstore.New(s.variant.ModelFile, nil,
			modelstore.WithMissingMessage(s.variant.MissingModelMessage))
	}

	s.logger.Info(ctx, "starting fundus service...",
		logger.String("variant", s.variant.Name),
		logger.String("model_path", s.store.Path()),
	)

	predictor, err := s.store.Load(ctx)
	s.started = true
	if err != nil {
		s.loadErr = err
		s.logger.Error(ctx, "model loading failed", logger.String("model_path", s.store.Path()), logger.Error(err))
		return err
	}

	s.adapter = inference.NewAdapter(predictor)
	if s.workers > 0 {
		s.pool = worker.NewPool(s.workers, s.queueCapacity, s.adapter, worker.WithLogger(s.logger.Named("worker")))
		s.pool.Start(context.WithoutCancel(ctx))
	}
	s.logger.Info(ctx, "fundus service started",
		logger.String("variant", s.variant.Name),
		logger.Int("workers", s.workers),
		logger.Bool("result_cache", s.cache != nil),
	)
	return nil
}

// Stop releases the model.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping fundus service...")
	if s.pool != nil {
		if err := s.pool.Shutdown(context.Background()); err != nil {
			s.logger.Warn(context.Background(), "worker pool shutdown failed", logger.Error(err))
		}
		s.pool = nil
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(context.Background(), "model close failed", logger.Error(err))
	}
	s.adapter = nil
	s.started = false
	s.logger.Info(context.Background(), "fundus service stopped")
}

// Variant returns the served variant.
func (s *Service) Variant() variant.Variant {
	return s.variant
}

// Status reports readiness and the variant's texts.
func (s *Service) Status(_ context.Context) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Variant: s.variant.Name,
		Texts:   s.variant.Texts,
		Metric:  s.variant.MetricLabel,
		Ready:   s.started && s.adapter != nil,
	}
	if s.store != nil {
		st.ModelPath = s.store.Path()
	}
	if s.variant.HasRisk() {
		th := variant.RiskThreshold
		st.Threshold = &th
	}
	switch {
	case s.loadErr != nil:
		st.Error = s.loadErr.Error()
	case !s.started:
		st.Error = ErrNotStarted.Error()
	}
	return st
}

// Analyze decodes an uploaded JPEG or PNG and runs it through the model.
func (s *Service) Analyze(ctx context.Context, r io.Reader) (variant.Result, error) {
	const op = "service.analyze"

	if err := s.ready(); err != nil {
		metrics.RecordAnalysis(s.variant.Name, metrics.OutcomeModelUnavailable)
		return variant.Result{}, err
	}

	lr := &io.LimitedReader{R: r, N: s.maxUploadBytes + 1}
	raw, err := io.ReadAll(lr)
	if lr.N <= 0 {
		metrics.RecordAnalysis(s.variant.Name, metrics.OutcomeBadRequest)
		return variant.Result{}, fmt.Errorf("%s: %w: limit %d bytes", op, ErrUploadTooLarge, s.maxUploadBytes)
	}
	if err != nil {
		metrics.RecordAnalysis(s.variant.Name, metrics.OutcomePreprocessing)
		return variant.Result{}, fmt.Errorf("%s: %w: %w", op, inference.ErrPreprocessing, err)
	}

	var key string
	if s.cache != nil {
		key = resultcache.Key(raw)
		res, ok := s.cache.Get(key)
		metrics.RecordCacheLookup(ok)
		if ok {
			s.recordSuccess(res)
			s.logger.Debug(ctx, "served cached result", logger.String("digest", key[:12]))
			return res, nil
		}
	}

	img, format, err := pixels.Decode(bytes.NewReader(raw))
	if err != nil {
		if errors.Is(err, pixels.ErrUnsupportedFormat) {
			metrics.RecordAnalysis(s.variant.Name, metrics.OutcomeBadRequest)
			return variant.Result{}, fmt.Errorf("%s: %w", op, err)
		}
		metrics.RecordAnalysis(s.variant.Name, metrics.OutcomePreprocessing)
		return variant.Result{}, fmt.Errorf("%s: %w: %w", op, inference.ErrPreprocessing, err)
	}
	metrics.RecordUploadSize(int64(len(raw)))

	b := img.Bounds()
	s.logger.Debug(ctx, "decoded upload",
		logger.String("format", format),
		logger.Int("width", b.Dx()),
		logger.Int("height", b.Dy()),
		logger.Int64("bytes", int64(len(raw))),
	)
	res, err := s.AnalyzeArray(ctx, pixels.FromImage(img))
	if err == nil && s.cache != nil {
		s.cache.Put(key, res)
	}
	return res, err
}

// AnalyzeArray runs an already decoded pixel array through the model.
func (s *Service) AnalyzeArray(ctx context.Context, a pixels.Array) (variant.Result, error) {
	s.mu.RLock()
	adapter, pool := s.adapter, s.pool
	s.mu.RUnlock()
	if adapter == nil {
		metrics.RecordAnalysis(s.variant.Name, metrics.OutcomeModelUnavailable)
		return variant.Result{}, s.ready()
	}

	var (
		value float64
		err   error
	)
	if pool != nil {
		value, err = pool.Submit(ctx, a)
		if errors.Is(err, queue.ErrFull) {
			err = fmt.Errorf("%w: %w", ErrBusy, err)
		}
	} else {
		value, err = adapter.Predict(ctx, a)
	}
	if err != nil {
		outcome := metrics.OutcomeInference
		switch {
		case errors.Is(err, ErrBusy):
			outcome = metrics.OutcomeBusy
		case errors.Is(err, inference.ErrPreprocessing):
			outcome = metrics.OutcomePreprocessing
		}
		metrics.RecordAnalysis(s.variant.Name, outcome)
		s.logger.Warn(ctx, "analysis failed", logger.String("outcome", outcome), logger.Error(err))
		return variant.Result{}, err
	}

	res := s.variant.Interpret(value)
	s.recordSuccess(res)
	s.logger.Info(ctx, "analysis complete",
		logger.String("variant", s.variant.Name),
		logger.Any("shape", a.Shape),
	)
	return res, nil
}

func (s *Service) recordSuccess(res variant.Result) {
	metrics.RecordAnalysis(s.variant.Name, metrics.OutcomeSuccess)
	if res.Risk != nil {
		metrics.RecordRiskClassification(res.Risk.Level)
	}
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.loadErr != nil:
		return s.loadErr
	case !s.started || s.adapter == nil:
		return ErrNotStarted
	}
	return nil
}
