package shipping

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlatRateProvider returns predefined flat-rate shipping options.
type FlatRateProvider struct {
	rates []FlatRate

	// freeOverCents makes every rate free when the subtotal reaches it.
	// Zero disables free shipping.
	freeOverCents int64

	now func() time.Time
}

// FlatRate defines a single flat-rate shipping option.
type FlatRate struct {
	ServiceName string
	ServiceCode string
	CostCents   int64
	DaysMin     int
	DaysMax     int
}

// DefaultFlatRates are used when no SHIPPING_RATES are configured.
var DefaultFlatRates = []FlatRate{
	{ServiceName: "Standard Shipping", ServiceCode: "standard", CostCents: 795, DaysMin: 3, DaysMax: 5},
	{ServiceName: "Express Shipping", ServiceCode: "express", CostCents: 1995, DaysMin: 1, DaysMax: 2},
}

// NewFlatRateProvider creates a new flat-rate shipping provider.
func NewFlatRateProvider(rates []FlatRate, freeOverCents int64) *FlatRateProvider {
	return &FlatRateProvider{
		rates:         rates,
		freeOverCents: freeOverCents,
		now:           time.Now,
	}
}

// GetRates converts flat rates to Rate objects.
func (p *FlatRateProvider) GetRates(ctx context.Context, params RateParams) ([]Rate, error) {
	if params.Destination.Country == "" {
		return nil, ErrDestinationRequired
	}
	if len(params.Packages) == 0 {
		return nil, ErrNoPackages
	}
	if len(p.rates) == 0 {
		return nil, ErrNoRates
	}

	free := p.freeOverCents > 0 && params.SubtotalCents >= p.freeOverCents

	result := make([]Rate, len(p.rates))
	for i, fr := range p.rates {
		cost := fr.CostCents
		if free {
			cost = 0
		}
		result[i] = Rate{
			RateID:                fr.ServiceCode,
			Carrier:               "Flat Rate",
			ServiceName:           fr.ServiceName,
			ServiceCode:           fr.ServiceCode,
			CostCents:             cost,
			EstimatedDaysMin:      fr.DaysMin,
			EstimatedDaysMax:      fr.DaysMax,
			EstimatedDeliveryDate: p.now().AddDate(0, 0, fr.DaysMax),
		}
	}
	return result, nil
}

// ParseFlatRates reads rates in the form
// "code:Service Name:cents:minDays:maxDays" separated by commas.
func ParseFlatRates(s string) ([]FlatRate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var rates []FlatRate
	for _, entry := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRateConfig, entry)
		}
		cost, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || cost < 0 {
			return nil, fmt.Errorf("%w: bad cost in %q", ErrInvalidRateConfig, entry)
		}
		minDays, err1 := strconv.Atoi(parts[3])
		maxDays, err2 := strconv.Atoi(parts[4])
		if err1 != nil || err2 != nil || minDays > maxDays {
			return nil, fmt.Errorf("%w: bad delivery days in %q", ErrInvalidRateConfig, entry)
		}
		rates = append(rates, FlatRate{
			ServiceCode: parts[0],
			ServiceName: parts[1],
			CostCents:   cost,
			DaysMin:     minDays,
			DaysMax:     maxDays,
		})
	}
	return rates, nil
}
