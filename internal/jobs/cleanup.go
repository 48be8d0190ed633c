// Package jobs defines the periodic maintenance jobs run by the worker.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
)

// Job names, used as the "job" label on metrics and in logs.
const (
	JobTypeSweepReservations = "cleanup:expired_reservations"
	JobTypeAbandonCheckouts  = "cleanup:expired_checkouts"
)

// Job is a unit of periodic work.
type Job struct {
	Name string

	// Interval between runs. A run that overlaps the next tick skips it.
	Interval time.Duration

	// Timeout bounds a single run. Zero means the worker default.
	Timeout time.Duration

	// Run performs one pass and reports how many records it touched.
	Run func(ctx context.Context) (Result, error)
}

// Result holds the outcome of one run
type Result struct {
	Processed int   `json:"processed"`
	Units     int64 `json:"units,omitempty"`
}

// SweepReservations releases holds whose TTL has passed. This is what returns
// stock held by carts that were simply walked away from.
func SweepReservations(reservations domain.ReservationManager, interval time.Duration) Job {
	return Job{
		Name:     JobTypeSweepReservations,
		Interval: interval,
		Run: func(ctx context.Context) (Result, error) {
			res, err := reservations.SweepExpired(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("sweep expired reservations: %w", err)
			}
			return Result{Processed: res.Count, Units: res.UnitsReleased}, nil
		},
	}
}

// AbandonCheckouts closes open checkouts whose payment window has passed.
func AbandonCheckouts(checkouts domain.CheckoutService, interval time.Duration) Job {
	return Job{
		Name:     JobTypeAbandonCheckouts,
		Interval: interval,
		Run: func(ctx context.Context) (Result, error) {
			n, err := checkouts.AbandonExpired(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("abandon expired checkouts: %w", err)
			}
			return Result{Processed: n}, nil
		},
	}
}
