package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/okian/fundus/internal/adapters/http/api"
	"github.com/okian/fundus/internal/adapters/http/site"
	"github.com/okian/fundus/internal/adapters/http/swagger"
	"github.com/okian/fundus/internal/adapters/onnx"
	app "github.com/okian/fundus/internal/app"
	"github.com/okian/fundus/internal/config"
	"github.com/okian/fundus/internal/domain/modelstore"
	"github.com/okian/fundus/internal/domain/variant"
	"github.com/okian/fundus/pkg/logger"
	"github.com/okian/fundus/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 30 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		// Logger isn't available yet
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		stop()
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := configureLogging(ctx, cfg); err != nil {
		stop()
		_, _ = os.Stderr.WriteString("failed to configure logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	configureMetrics(cfg)

	err = run(ctx, cfg)
	stop()
	if err != nil {
		logger.Get().Error(ctx, "fundus exited with error", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

// configureLogging re-initializes the logger with the configured encoder and
// file sink, then applies the level.
func configureLogging(ctx context.Context, cfg *config.Config) error {
	if cfg.LogFormat != "console" || cfg.LogFile != "" {
		if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithFile(cfg.LogFile)); err != nil {
			return err
		}
	}
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return nil
}

// configureMetrics rebuilds the metrics manager with the served variant as a
// constant label.
func configureMetrics(cfg *config.Config) *metrics.Manager {
	return metrics.Configure(
		metrics.WithEnabled(cfg.MetricsEnabled),
		metrics.WithConstLabels(map[string]string{"variant": cfg.Variant}),
	)
}

// newModelStore builds the load-once store backed by ONNX Runtime.
func newModelStore(cfg *config.Config, v variant.Variant) *modelstore.Store {
	return modelstore.New(cfg.ResolvedModelPath(),
		onnx.Opener(
			onnx.WithLibraryPath(cfg.OnnxLibraryPath),
			onnx.WithTensorNames(cfg.ModelInputName, cfg.ModelOutputName),
		),
		modelstore.WithMissingMessage(v.MissingModelMessage),
	)
}

// newHandler registers every route on a fresh mux.
func newHandler(ctx context.Context, svc *app.Service, cfg *config.Config, l logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// API docs under /api-docs and /openapi.yaml
	swagger.Register(ctx, mux)

	api.NewServer(svc,
		api.WithMaxUploadBytes(cfg.MaxUploadBytes),
		api.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		api.WithLogger(l),
	).Register(ctx, mux)

	// The page catches everything else.
	site.Register(ctx, mux)
	return mux
}

// run starts the service and HTTP server and blocks until ctx is cancelled
// or the server fails.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	v, err := variant.ByName(cfg.Variant)
	if err != nil {
		return err
	}

	svc := app.New(
		app.WithLogger(log.Named("service")),
		app.WithVariant(v),
		app.WithModelStore(newModelStore(cfg, v)),
		app.WithMaxUploadBytes(cfg.MaxUploadBytes),
		app.WithWorkers(cfg.Workers, cfg.QueueCapacity),
		app.WithResultCache(cfg.ResultCacheSize),
	)
	if err := svc.Start(ctx); err != nil {
		if cfg.FailFast {
			return fmt.Errorf("model load: %w", err)
		}
		log.Warn(ctx, "serving without a model; analyze requests will be refused", logger.Error(err))
	}
	defer func() {
		svc.Stop()
		if err := onnx.Shutdown(); err != nil {
			log.Warn(context.Background(), "onnx runtime shutdown failed", logger.Error(err))
		}
	}()

	return serve(ctx, cfg, newHandler(ctx, svc, cfg, log.Named("http")))
}

// serve runs the HTTP server with graceful shutdown alongside the system
// metrics collector.
func serve(ctx context.Context, cfg *config.Config, handler http.Handler) error {
	log := logger.Get()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      time.Duration(cfg.WriteTimeoutS) * time.Second,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return metrics.RunSystemCollector(gctx, systemMetricsInterval)
	})

	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("variant", cfg.Variant))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		log.Info(context.Background(), "server stopped")
		return nil
	})

	return g.Wait()
}
