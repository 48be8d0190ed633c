package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/kaupa/internal/tax"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/tax/calculation"
)

// StripeTaxCalculator delegates tax calculation to the Stripe Tax Calculation
// API. It needs Stripe Tax enabled on the account and a configured
// StripeProvider (which sets the API key).
type StripeTaxCalculator struct{}

// NewStripeTaxCalculator creates a tax calculator backed by Stripe Tax.
func NewStripeTaxCalculator() *StripeTaxCalculator {
	return &StripeTaxCalculator{}
}

// CalculateTax calls Stripe Tax with the discounted line amounts and shipping.
// The calculation ID is returned in ProviderTxID for the audit trail.
func (c *StripeTaxCalculator) CalculateTax(ctx context.Context, params tax.TaxParams) (*tax.TaxResult, error) {
	currency := params.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	if len(params.LineItems) == 0 && params.ShippingCents == 0 {
		return &tax.TaxResult{}, nil
	}

	addr := params.ShippingAddress
	calcParams := &stripe.TaxCalculationParams{
		Currency: stripe.String(currency),
		CustomerDetails: &stripe.TaxCalculationCustomerDetailsParams{
			Address: &stripe.AddressParams{
				Line1:      stripe.String(addr.AddressLine1),
				Line2:      stripe.String(addr.AddressLine2),
				City:       stripe.String(addr.City),
				State:      stripe.String(addr.State),
				PostalCode: stripe.String(addr.PostalCode),
				Country:    stripe.String(addr.Country),
			},
			AddressSource: stripe.String("shipping"),
		},
		LineItems: buildStripeTaxLineItems(params),
	}
	if params.ShippingCents > 0 {
		calcParams.ShippingCost = &stripe.TaxCalculationShippingCostParams{
			Amount: stripe.Int64(params.ShippingCents),
		}
	}
	calcParams.Context = ctx

	start := time.Now()
	calc, err := calculation.New(calcParams)
	observeStripe("tax_calculation", start)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return &tax.TaxResult{
		TotalTaxCents: calc.TaxAmountExclusive,
		Breakdown:     buildTaxBreakdown(calc),
		ProviderTxID:  calc.ID,
		IsEstimate:    false,
	}, nil
}

// buildStripeTaxLineItems converts our line items to Stripe's format. The
// order discount is spread across lines in proportion to their totals, with
// the rounding remainder on the last line.
func buildStripeTaxLineItems(params tax.TaxParams) []*stripe.TaxCalculationLineItemParams {
	amounts := allocateDiscount(params.LineItems, params.DiscountCents)
	lineItems := make([]*stripe.TaxCalculationLineItemParams, 0, len(params.LineItems))

	for i, item := range params.LineItems {
		taxCode := "txcd_99999999" // general merchandise
		if item.TaxCategory == "food" {
			taxCode = "txcd_40060003" // food for home consumption
		}

		lineItems = append(lineItems, &stripe.TaxCalculationLineItemParams{
			Amount:    stripe.Int64(amounts[i]),
			Quantity:  stripe.Int64(int64(item.Quantity)),
			Reference: stripe.String(item.VariantID.String()),
			TaxCode:   stripe.String(taxCode),
		})
	}
	return lineItems
}

func allocateDiscount(items []tax.LineItem, discount int64) []int64 {
	out := make([]int64, len(items))
	var total int64
	for i, it := range items {
		out[i] = it.TotalCents
		total += it.TotalCents
	}
	if discount <= 0 || total == 0 {
		return out
	}
	if discount >= total {
		for i := range out {
			out[i] = 0
		}
		return out
	}

	var applied int64
	for i, it := range items {
		share := discount * it.TotalCents / total
		if i == len(items)-1 {
			share = discount - applied
		}
		out[i] = it.TotalCents - share
		applied += share
	}
	return out
}

// buildTaxBreakdown extracts tax breakdown by jurisdiction from Stripe response
func buildTaxBreakdown(calc *stripe.TaxCalculation) []tax.TaxBreakdown {
	jurisdictions := make(map[string]*tax.TaxBreakdown)
	var order []string

	for _, item := range calc.TaxBreakdown {
		if item.TaxRateDetails == nil {
			continue
		}

		state := item.TaxRateDetails.State
		country := item.TaxRateDetails.Country

		var name, level string
		switch {
		case state != "":
			name, level = state, "state"
		case country != "":
			name, level = country, "country"
		default:
			continue
		}

		key := fmt.Sprintf("%s|%s|%s", level, name, item.TaxRateDetails.TaxType)

		// PercentageDecimal is "8.5" for 8.5%.
		rate := decimal.Zero
		if pct, err := decimal.NewFromString(item.TaxRateDetails.PercentageDecimal); err == nil {
			rate = pct.Div(decimal.NewFromInt(100))
		}

		if existing, ok := jurisdictions[key]; ok {
			existing.AmountCents += item.Amount
			continue
		}
		jurisdictions[key] = &tax.TaxBreakdown{
			Jurisdiction: level,
			Name:         name,
			Rate:         rate,
			AmountCents:  item.Amount,
		}
		order = append(order, key)
	}

	breakdown := make([]tax.TaxBreakdown, 0, len(order))
	for _, key := range order {
		breakdown = append(breakdown, *jurisdictions[key])
	}
	return breakdown
}
