// Package provider builds the pricing and payment providers from
// configuration by name.
package provider

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderType represents the category of provider service.
type ProviderType string

const (
	ProviderTypeTax      ProviderType = "tax"
	ProviderTypeShipping ProviderType = "shipping"
	ProviderTypeBilling  ProviderType = "billing"
)

// ProviderName represents specific provider implementations.
type ProviderName string

const (
	// Tax providers
	ProviderNameStripeTax  ProviderName = "stripe_tax"
	ProviderNamePercentage ProviderName = "percentage" // Simple percentage-based tax
	ProviderNameNoTax      ProviderName = "no_tax"     // No tax calculation

	// Shipping providers
	ProviderNameFlatRate ProviderName = "flat_rate"

	// Billing providers
	ProviderNameStripe ProviderName = "stripe"
	ProviderNameMock   ProviderName = "mock" // Local payments, no network
)

// Config selects and configures each provider. Empty names are inferred:
// billing is Stripe when a key is present, tax is percentage when a rate is
// present, and shipping is always flat rate.
type Config struct {
	Billing  ProviderName
	Tax      ProviderName
	Shipping ProviderName

	StripeAPIKey        string
	StripeWebhookSecret string
	StripeTimeout       time.Duration

	TaxRate decimal.Decimal

	// ShippingRates uses the flat rate format "code:Name:cents:min:max,...".
	// Empty selects the default rates.
	ShippingRates     string
	FreeShippingCents int64
}

func (c Config) billingName() ProviderName {
	if c.Billing != "" {
		return c.Billing
	}
	if c.StripeAPIKey != "" {
		return ProviderNameStripe
	}
	return ProviderNameMock
}

func (c Config) taxName() ProviderName {
	if c.Tax != "" {
		return c.Tax
	}
	if c.TaxRate.IsPositive() {
		return ProviderNamePercentage
	}
	return ProviderNameNoTax
}

func (c Config) shippingName() ProviderName {
	if c.Shipping != "" {
		return c.Shipping
	}
	return ProviderNameFlatRate
}
