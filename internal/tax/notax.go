package tax

import "context"

// NoTaxCalculator returns zero tax for all calculations.
// Used when the store does not collect sales tax.
type NoTaxCalculator struct{}

// NewNoTaxCalculator creates a new no-tax calculator.
func NewNoTaxCalculator() *NoTaxCalculator {
	return &NoTaxCalculator{}
}

// CalculateTax always returns zero tax.
func (c *NoTaxCalculator) CalculateTax(ctx context.Context, params TaxParams) (*TaxResult, error) {
	return &TaxResult{
		TotalTaxCents: 0,
		Breakdown:     []TaxBreakdown{},
	}, nil
}
