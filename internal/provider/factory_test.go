package provider

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/kaupa/internal/billing"
	"github.com/dukerupert/kaupa/internal/shipping"
	"github.com/dukerupert/kaupa/internal/tax"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuild_DefaultsToLocalProviders(t *testing.T) {
	p, err := Build(Config{}, testLogger())
	require.NoError(t, err)

	assert.IsType(t, &billing.MockProvider{}, p.Billing)
	assert.IsType(t, &shipping.FlatRateProvider{}, p.Shipping)
	assert.IsType(t, &tax.NoTaxCalculator{}, p.Tax)
}

func TestCreateTaxCalculator(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    any
		wantErr string
	}{
		{name: "inferred percentage", cfg: Config{TaxRate: decimal.RequireFromString("0.08")}, want: &tax.PercentageCalculator{}},
		{name: "explicit no tax", cfg: Config{Tax: ProviderNameNoTax, TaxRate: decimal.RequireFromString("0.08")}, want: &tax.NoTaxCalculator{}},
		{name: "percentage without rate", cfg: Config{Tax: ProviderNamePercentage}, wantErr: "tax rate is required"},
		{name: "stripe tax without stripe billing", cfg: Config{Tax: ProviderNameStripeTax}, wantErr: "requires the stripe billing provider"},
		{name: "unknown", cfg: Config{Tax: "avalara"}, wantErr: "unknown provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc, err := CreateTaxCalculator(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, calc)
		})
	}
}

func TestCreateShippingProvider(t *testing.T) {
	_, err := CreateShippingProvider(Config{ShippingRates: "standard:Standard:500:3:5"})
	require.NoError(t, err)

	_, err = CreateShippingProvider(Config{ShippingRates: "broken"})
	assert.ErrorIs(t, err, shipping.ErrInvalidRateConfig)

	_, err = CreateShippingProvider(Config{Shipping: "easypost"})
	assert.EqualError(t, err, `shipping provider "easypost": unknown provider`)
}

func TestCreateBillingProvider(t *testing.T) {
	_, err := CreateBillingProvider(Config{Billing: ProviderNameStripe}, testLogger())
	assert.EqualError(t, err, `billing provider "stripe": stripe api key is required`)

	_, err = CreateBillingProvider(Config{StripeAPIKey: "not-a-key", StripeWebhookSecret: "whsec_x"}, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrInvalidAPIKey)

	p, err := CreateBillingProvider(Config{StripeAPIKey: "sk_test_123", StripeWebhookSecret: "whsec_x"}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &billing.BreakerProvider{}, p)
}
