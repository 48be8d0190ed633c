// Package shipping quotes shipping options for a checkout.
package shipping

import (
	"context"
	"time"

	"github.com/dukerupert/kaupa/internal/address"
)

// Provider defines the interface for shipping rate quotes.
// Implementations can integrate with carriers; FlatRateProvider serves
// configured fixed prices.
type Provider interface {
	// GetRates returns available shipping options for a shipment.
	GetRates(ctx context.Context, params RateParams) ([]Rate, error)
}

// RateParams contains parameters for calculating shipping rates.
type RateParams struct {
	Destination address.Address
	Packages    []Package

	// SubtotalCents is the discounted merchandise total, used for
	// free-shipping thresholds.
	SubtotalCents int64
}

// Package represents a physical package to be shipped.
type Package struct {
	WeightGrams int32
	LengthCm    int32
	WidthCm     int32
	HeightCm    int32
}

// Rate represents a shipping rate option.
type Rate struct {
	RateID                string
	Carrier               string
	ServiceName           string
	ServiceCode           string
	CostCents             int64
	EstimatedDaysMin      int
	EstimatedDaysMax      int
	EstimatedDeliveryDate time.Time
}

// FindRate returns the rate with the given id.
func FindRate(rates []Rate, rateID string) (Rate, error) {
	for _, r := range rates {
		if r.RateID == rateID {
			return r, nil
		}
	}
	return Rate{}, ErrInvalidRate
}
