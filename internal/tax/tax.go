// Package tax computes sales tax on a pricing-locked checkout.
package tax

import (
	"context"

	"github.com/dukerupert/kaupa/internal/address"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Calculator defines the interface for tax calculation.
// Implementations: PercentageCalculator, NoTaxCalculator and the Stripe Tax
// calculator in the billing package.
type Calculator interface {
	// CalculateTax computes tax for order line items and shipping.
	CalculateTax(ctx context.Context, params TaxParams) (*TaxResult, error)
}

// TaxParams contains all information needed for tax calculation.
type TaxParams struct {
	ShippingAddress address.Address
	LineItems       []LineItem
	DiscountCents   int64
	ShippingCents   int64
	Currency        string
}

// LineItem represents a single item being taxed.
type LineItem struct {
	VariantID   uuid.UUID
	Description string
	Quantity    int32
	UnitCents   int64
	TotalCents  int64
	TaxCategory string // "food", "general_merchandise", etc.
}

// TaxResult contains the calculated tax amount and breakdown.
type TaxResult struct {
	TotalTaxCents int64
	Breakdown     []TaxBreakdown
	ProviderTxID  string // For audit trail
	IsEstimate    bool
}

// TaxBreakdown represents tax for a single jurisdiction.
type TaxBreakdown struct {
	Jurisdiction string          // "state", "county", "city"
	Name         string          // e.g., "Washington State"
	Rate         decimal.Decimal // e.g., 0.065 for 6.5%
	AmountCents  int64
}

// TaxableCents is the line total less the discount plus shipping, floored at zero.
func (p TaxParams) TaxableCents() int64 {
	var base int64
	for _, item := range p.LineItems {
		base += item.TotalCents
	}
	base -= p.DiscountCents
	if base < 0 {
		base = 0
	}
	return base + p.ShippingCents
}
