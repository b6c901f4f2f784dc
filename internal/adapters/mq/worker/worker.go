// Package worker runs queued analysis jobs through the model on a fixed
// number of goroutines.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/okian/fundus/internal/adapters/mq/queue"
	"github.com/okian/fundus/internal/domain/pixels"
	"github.com/okian/fundus/pkg/logger"
	"github.com/okian/fundus/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 1
	poolShutdownTimeout = 30 * time.Second
)

// Job results used as metric labels.
const (
	resultOK        = "ok"
	resultError     = "error"
	resultAbandoned = "abandoned"
)

// Predictor produces the scalar for one pixel array.
type Predictor interface {
	Predict(ctx context.Context, img pixels.Array) (float64, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue() <-chan queue.Job
}

// Worker processes jobs until the queue closes or it is shut down.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current job.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	predictor Predictor
	name      string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, p Predictor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		predictor: p,
		name:      "worker",
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.process(job)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs one job and always answers on its reply channel. Jobs whose
// submitter has already gone are answered with the context error and not
// run.
func (w *InMemoryWorker) process(job queue.Job) { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if !job.Enqueued.IsZero() {
		metrics.RecordQueueWait(float64(time.Since(job.Enqueued).Microseconds()) / 1000)
	}

	if err := ctx.Err(); err != nil {
		metrics.RecordJobProcessed(resultAbandoned)
		job.Reply <- queue.Reply{Err: err}
		return
	}

	value, err := w.predictor.Predict(ctx, job.Input)
	if err != nil {
		metrics.RecordJobProcessed(resultError)
		w.logger.Debug(ctx, "job failed", logger.Error(err))
		job.Reply <- queue.Reply{Err: err}
		return
	}

	metrics.RecordJobProcessed(resultOK)
	job.Reply <- queue.Reply{Value: value}
}

// Pool owns a queue and the workers draining it.
type Pool struct {
	workers []*InMemoryWorker
	queue   *queue.InMemoryQueue

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool

	logger logger.Logger
}

// NewPool creates workerCount workers over a queue of queueCapacity jobs.
func NewPool(workerCount, queueCapacity int, p Predictor, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue.NewInMemoryQueue(queue.WithCapacity(queueCapacity)),
	}

	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(pool.queue, p, wopts...)
	}
	pool.logger = pool.workers[0].logger.Named("pool")

	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Pending returns the number of jobs waiting for a worker.
func (p *Pool) Pending() int { return p.queue.Len() }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.started = true
		for _, w := range p.workers {
			go w.Run(ctx)
		}
		metrics.UpdateWorkersActive(len(p.workers))
		p.logger.Info(ctx, "worker pool started",
			logger.Int("workers", len(p.workers)),
			logger.Int("queue_capacity", p.queue.Capacity()),
		)
	})
}

// Submit queues img and waits for its prediction. A full or closed queue
// fails at once with queue.ErrFull.
func (p *Pool) Submit(ctx context.Context, img pixels.Array) (float64, error) {
	job := queue.NewJob(ctx, img)
	if !p.queue.Enqueue(ctx, job) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return 0, queue.ErrFull
	}

	select {
	case r := <-job.Reply:
		return r.Value, r.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Shutdown closes the queue, lets workers drain it, and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		if cerr := p.queue.Close(); cerr != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(cerr))
		}
		if !p.started {
			return
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
		defer cancel()

		for i, w := range p.workers {
			select {
			case <-w.done:
			case <-shutdownCtx.Done():
				p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
				err = multierr.Append(err, fmt.Errorf("worker %d: %w", i, shutdownCtx.Err()))
			}
		}
		metrics.UpdateWorkersActive(0)
	})
	return err
}

// Option configures a worker; options passed to NewPool apply to every
// worker in it.
type Option func(*InMemoryWorker)

// WithName names the worker's logger. Empty names are ignored.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger replaces the named global logger.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}
