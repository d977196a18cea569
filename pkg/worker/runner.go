// Package worker runs the pipeline's background poll loops.
package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/attriq/lead-engine/pkg/metrics"
)

// Worker is one periodic job.
type Worker struct {
	Name     string
	Interval time.Duration

	// Run performs one iteration. Errors are logged, never fatal; the
	// loop continues on the next tick.
	Run func(ctx context.Context) error
}

// Runner drives a set of workers until its context is cancelled.
type Runner struct {
	workers []Worker
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewRunner creates a runner for the given workers.
func NewRunner(logger *zap.Logger, workers ...Worker) *Runner {
	return &Runner{
		workers: workers,
		logger:  logger.Named("worker"),
	}
}

// Start launches one goroutine per worker. Each loop sleeps a random
// fraction of its interval before the first run so restarts do not line
// every worker up on the same tick.
func (r *Runner) Start(ctx context.Context) {
	for _, w := range r.workers {
		r.wg.Add(1)
		go func(w Worker) {
			defer r.wg.Done()
			r.loop(ctx, w)
		}(w)
	}
}

// Wait blocks until every worker loop has exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, w Worker) {
	logger := r.logger.With(zap.String("name", w.Name))
	logger.Info("worker started", zap.Duration("interval", w.Interval))

	delay := time.Duration(rand.Int63n(int64(w.Interval)))
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped")
			return
		case <-timer.C:
		}

		start := time.Now()
		err := w.Run(ctx)
		metrics.WorkerDuration.WithLabelValues(w.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("worker stopped")
				return
			}
			metrics.WorkerRuns.WithLabelValues(w.Name, "error").Inc()
			logger.Error("worker run failed", zap.Error(err))
		} else {
			metrics.WorkerRuns.WithLabelValues(w.Name, "ok").Inc()
		}

		timer.Reset(w.Interval)
	}
}
