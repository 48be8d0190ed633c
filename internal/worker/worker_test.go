package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/jobs"
	"github.com/dukerupert/kaupa/internal/telemetry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countingJob(name string, interval time.Duration, calls *atomic.Int32) jobs.Job {
	return jobs.Job{
		Name:     name,
		Interval: interval,
		Run: func(ctx context.Context) (jobs.Result, error) {
			calls.Add(1)
			return jobs.Result{Processed: 1}, nil
		},
	}
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(Config{}, testLogger(),
		jobs.Job{Name: "disabled"},
		jobs.Job{Name: "enabled", Interval: time.Second},
	)

	assert.Contains(t, w.config.WorkerID, "worker-")
	assert.Equal(t, 2, w.config.MaxConcurrency)
	assert.Equal(t, time.Minute, w.config.JobTimeout)
	require.Len(t, w.jobs, 1)
	assert.Equal(t, "enabled", w.jobs[0].Name)
}

func TestWorker_StartRunsJobsUntilCancelled(t *testing.T) {
	var sweeps, abandons atomic.Int32
	w := NewWorker(Config{WorkerID: "test"}, testLogger(),
		countingJob("sweep", 5*time.Millisecond, &sweeps),
		countingJob("abandon", 5*time.Millisecond, &abandons),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	assert.Eventually(t, func() bool {
		return sweeps.Load() >= 2 && abandons.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	// No runs after shutdown.
	n := sweeps.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, sweeps.Load())
}

func TestWorker_RunOnceAppliesTimeout(t *testing.T) {
	w := NewWorker(Config{JobTimeout: 10 * time.Millisecond}, testLogger())

	var sawDeadline atomic.Bool
	w.RunOnce(context.Background(), jobs.Job{
		Name:     "slow",
		Interval: time.Second,
		Run: func(ctx context.Context) (jobs.Result, error) {
			_, ok := ctx.Deadline()
			sawDeadline.Store(ok)
			<-ctx.Done()
			return jobs.Result{}, ctx.Err()
		},
	})

	assert.True(t, sawDeadline.Load())
}

func TestWorker_RunOnceRecordsMetrics(t *testing.T) {
	prev := telemetry.Business
	telemetry.Business = telemetry.NewBusinessMetrics("kaupa_test", prometheus.NewRegistry())
	t.Cleanup(func() { telemetry.Business = prev })

	w := NewWorker(Config{}, testLogger())
	ok := jobs.Job{Name: "ok", Interval: time.Second, Run: func(context.Context) (jobs.Result, error) {
		return jobs.Result{}, nil
	}}
	bad := jobs.Job{Name: "bad", Interval: time.Second, Run: func(context.Context) (jobs.Result, error) {
		return jobs.Result{}, errors.New("store down")
	}}

	w.RunOnce(context.Background(), ok)
	w.RunOnce(context.Background(), bad)
	w.RunOnce(context.Background(), bad)

	assert.Equal(t, 1.0, testutil.ToFloat64(telemetry.Business.JobsProcessed.WithLabelValues("ok", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(telemetry.Business.JobsProcessed.WithLabelValues("bad", "failed")))
}

type stubReservations struct {
	domain.ReservationManager
	result domain.SweepResult
	err    error
}

func (s stubReservations) SweepExpired(context.Context) (domain.SweepResult, error) {
	return s.result, s.err
}

type stubCheckouts struct {
	domain.CheckoutService
	n   int
	err error
}

func (s stubCheckouts) AbandonExpired(context.Context) (int, error) {
	return s.n, s.err
}

func TestJobs_WrapServices(t *testing.T) {
	ctx := context.Background()

	sweep := jobs.SweepReservations(stubReservations{result: domain.SweepResult{Count: 3, UnitsReleased: 7}}, time.Minute)
	assert.Equal(t, jobs.JobTypeSweepReservations, sweep.Name)
	res, err := sweep.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobs.Result{Processed: 3, Units: 7}, res)

	abandon := jobs.AbandonCheckouts(stubCheckouts{n: 2}, time.Minute)
	res, err = abandon.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)

	failing := jobs.AbandonCheckouts(stubCheckouts{err: domain.ErrStoreUnavailable}, time.Minute)
	_, err = failing.Run(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
