// Package worker runs the periodic maintenance jobs alongside the HTTP server.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/kaupa/internal/jobs"
	"github.com/dukerupert/kaupa/internal/telemetry"
)

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// MaxConcurrency is the maximum number of jobs running at once
	MaxConcurrency int

	// JobTimeout bounds a single run when the job sets none
	JobTimeout time.Duration

	// ShutdownTimeout is how long Start waits for in-flight runs after the
	// context is cancelled
	ShutdownTimeout time.Duration
}

// Worker runs a fixed set of jobs on their own intervals
type Worker struct {
	config Config
	jobs   []jobs.Job
	logger *slog.Logger
}

// NewWorker creates a new background job worker. Jobs with a non-positive
// interval are dropped.
func NewWorker(config Config, logger *slog.Logger, js ...jobs.Job) *Worker {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 2
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = time.Minute
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	w := &Worker{config: config, logger: logger}
	for _, j := range js {
		if j.Interval <= 0 {
			logger.Warn("job disabled: no interval", "job", j.Name)
			continue
		}
		w.jobs = append(w.jobs, j)
	}
	return w
}

// Start runs every job until the context is cancelled, then waits up to
// ShutdownTimeout for in-flight runs. It always returns ctx.Err().
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"worker_id", w.config.WorkerID,
		"jobs", len(w.jobs),
		"max_concurrency", w.config.MaxConcurrency,
	)

	// Semaphore for concurrency control
	sem := make(chan struct{}, w.config.MaxConcurrency)

	var wg sync.WaitGroup
	for _, job := range w.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer telemetry.RecoverWithSentry()
			w.loop(ctx, job, sem)
		}()
	}

	<-ctx.Done()
	w.logger.Info("worker shutting down", "worker_id", w.config.WorkerID)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("worker shutdown timed out with jobs in flight", "worker_id", w.config.WorkerID)
	}
	return ctx.Err()
}

// loop ticks one job. Runs happen inline so a job never overlaps itself.
func (w *Worker) loop(ctx context.Context, job jobs.Job, sem chan struct{}) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case sem <- struct{}{}:
				w.RunOnce(ctx, job)
				<-sem
			default:
				// At max concurrency, skip this tick
				w.logger.Debug("job skipped: worker busy", "job", job.Name)
			}
		}
	}
}

// RunOnce executes a single run of job with its timeout, logging and
// recording the outcome. Errors are not returned; the next tick retries.
func (w *Worker) RunOnce(ctx context.Context, job jobs.Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = w.config.JobTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, finish := telemetry.StartSpan(ctx, "job", job.Name)
	defer finish()

	start := time.Now()
	res, err := job.Run(ctx)
	elapsed := time.Since(start)

	result := "success"
	if err != nil {
		result = "failed"
	}
	if telemetry.Business != nil {
		telemetry.Business.JobsProcessed.WithLabelValues(job.Name, result).Inc()
		telemetry.Business.JobDuration.WithLabelValues(job.Name).Observe(elapsed.Seconds())
	}

	if err != nil {
		w.logger.Error("job failed",
			"job", job.Name,
			"worker_id", w.config.WorkerID,
			"error", err,
			"duration_ms", elapsed.Milliseconds(),
		)
		telemetry.CaptureErrorWithTags(err, map[string]string{"job": job.Name}, nil)
		return
	}

	if res.Processed > 0 {
		w.logger.Info("job completed",
			"job", job.Name,
			"processed", res.Processed,
			"units", res.Units,
			"duration_ms", elapsed.Milliseconds(),
		)
		return
	}
	w.logger.Debug("job completed", "job", job.Name, "processed", 0)
}
