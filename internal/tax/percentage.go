package tax

import (
	"context"

	"github.com/shopspring/decimal"
)

// PercentageCalculator calculates tax using a single flat rate applied to the
// discounted subtotal plus shipping.
type PercentageCalculator struct {
	rate decimal.Decimal // e.g., 0.08 for 8%
	name string
}

// NewPercentageCalculator creates a new percentage-based tax calculator.
func NewPercentageCalculator(rate decimal.Decimal) *PercentageCalculator {
	return &PercentageCalculator{rate: rate, name: "Default Sales Tax"}
}

// Rate returns the configured rate.
func (c *PercentageCalculator) Rate() decimal.Decimal {
	return c.rate
}

// CalculateTax computes tax on (subtotal - discount + shipping) using the
// configured rate, rounded half away from zero to the cent.
func (c *PercentageCalculator) CalculateTax(ctx context.Context, params TaxParams) (*TaxResult, error) {
	if c.rate.IsNegative() || c.rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, ErrInvalidTaxRate
	}
	if params.ShippingCents < 0 {
		return nil, ErrNegativeShipping
	}

	amount := decimal.NewFromInt(params.TaxableCents()).
		Mul(c.rate).
		Round(0).
		IntPart()

	return &TaxResult{
		TotalTaxCents: amount,
		Breakdown: []TaxBreakdown{{
			Jurisdiction: "state",
			Name:         c.name,
			Rate:         c.rate,
			AmountCents:  amount,
		}},
	}, nil
}
