// Package modelstore loads the regression model once per process and hands
// the same predictor, or the same failure, to every caller.
package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/okian/fundus/internal/domain/inference"
	"github.com/okian/fundus/pkg/metrics"
)

// Opener deserializes the model stored at path.
type Opener func(ctx context.Context, path string) (inference.Predictor, error)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithMissingMessage overrides the text reported when the model file is absent.
func WithMissingMessage(fn func(path string) string) Option {
	return func(s *Store) {
		if fn != nil {
			s.missing = fn
		}
	}
}

// WithStat replaces the file existence check.
func WithStat(stat func(string) (fs.FileInfo, error)) Option {
	return func(s *Store) {
		if stat != nil {
			s.stat = stat
		}
	}
}

// Store is a load-once cache around an Opener.
type Store struct {
	path    string
	open    Opener
	missing func(path string) string
	stat    func(string) (fs.FileInfo, error)

	mu        sync.Mutex
	loaded    bool
	predictor inference.Predictor
	err       *LoadError
}

// New creates a Store for the model at path.
func New(path string, open Opener, opts ...Option) *Store {
	s := &Store{
		path: path,
		open: open,
		missing: func(p string) string {
			return fmt.Sprintf("File '%s' not found. Please run your training script first.", p)
		},
		stat: os.Stat,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the model location.
func (s *Store) Path() string { return s.path }

// Load returns the cached predictor, opening it on first use. Failures are
// cached too; a nil predictor is always paired with a *LoadError.
func (s *Store) Load(ctx context.Context) (inference.Predictor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		start := time.Now()
		s.predictor, s.err = s.load(ctx)
		s.loaded = true
		metrics.RecordModelLoadDuration(float64(time.Since(start).Nanoseconds()) / 1e6)
		metrics.SetModelReady(s.err == nil)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.predictor, nil
}

func (s *Store) load(ctx context.Context) (p inference.Predictor, lerr *LoadError) {
	if _, err := s.stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Path: s.path, Message: s.missing(s.path), Cause: err}
		}
		return nil, &LoadError{Path: s.path, Message: err.Error(), Cause: err}
	}
	if s.open == nil {
		return nil, &LoadError{Path: s.path, Message: "no model opener configured"}
	}

	defer func() {
		if r := recover(); r != nil {
			p = nil
			lerr = &LoadError{Path: s.path, Message: fmt.Sprintf("model open panicked: %v", r)}
		}
	}()

	pred, err := s.open(ctx, s.path)
	if err != nil {
		return nil, &LoadError{Path: s.path, Message: err.Error(), Cause: err}
	}
	if pred == nil {
		return nil, &LoadError{Path: s.path, Message: "model opener returned no predictor"}
	}
	return pred, nil
}

// Status reports whether a predictor is available and the stored failure
// message otherwise. It does not trigger a load.
func (s *Store) Status() (loaded, ready bool, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return false, false, ""
	}
	if s.err != nil {
		return true, false, s.err.Message
	}
	return true, true, ""
}

// Close releases the predictor when it holds native resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if c, ok := s.predictor.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	s.predictor = nil
	if s.loaded && s.err == nil {
		s.err = &LoadError{Path: s.path, Message: "model closed"}
	}
	metrics.SetModelReady(false)
	return err
}
