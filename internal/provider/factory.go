package provider

import (
	"fmt"
	"log/slog"

	"github.com/dukerupert/kaupa/internal/billing"
	"github.com/dukerupert/kaupa/internal/shipping"
	"github.com/dukerupert/kaupa/internal/tax"
)

// Providers holds the constructed providers for the checkout service.
type Providers struct {
	Billing  billing.Provider
	Shipping shipping.Provider
	Tax      tax.Calculator
}

// Build creates every provider named by cfg. The Stripe provider is wrapped
// in a circuit breaker.
func Build(cfg Config, logger *slog.Logger) (*Providers, error) {
	b, err := CreateBillingProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	s, err := CreateShippingProvider(cfg)
	if err != nil {
		return nil, err
	}
	t, err := CreateTaxCalculator(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("providers configured",
		"billing", cfg.billingName(),
		"shipping", cfg.shippingName(),
		"tax", cfg.taxName(),
	)
	return &Providers{Billing: b, Shipping: s, Tax: t}, nil
}

// CreateBillingProvider creates a billing provider based on the provider name in config.
func CreateBillingProvider(cfg Config, logger *slog.Logger) (billing.Provider, error) {
	name := cfg.billingName()
	switch name {
	case ProviderNameMock:
		logger.Warn("using mock payment provider; no real payments will be taken")
		return billing.NewMockProvider(), nil

	case ProviderNameStripe:
		if cfg.StripeAPIKey == "" {
			return nil, ErrMissingField(ProviderTypeBilling, name, "stripe api key")
		}
		stripeProvider, err := billing.NewStripeProvider(billing.StripeConfig{
			APIKey:          cfg.StripeAPIKey,
			WebhookSecret:   cfg.StripeWebhookSecret,
			EnableStripeTax: cfg.taxName() == ProviderNameStripeTax,
			Timeout:         cfg.StripeTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Stripe provider: %w", err)
		}
		return billing.NewBreakerProvider(stripeProvider, billing.BreakerConfig{}, logger), nil

	default:
		return nil, ErrUnknownProvider(ProviderTypeBilling, name)
	}
}

// CreateShippingProvider creates a shipping provider based on the provider name in config.
func CreateShippingProvider(cfg Config) (shipping.Provider, error) {
	name := cfg.shippingName()
	switch name {
	case ProviderNameFlatRate:
		rates := shipping.DefaultFlatRates
		if cfg.ShippingRates != "" {
			parsed, err := shipping.ParseFlatRates(cfg.ShippingRates)
			if err != nil {
				return nil, fmt.Errorf("invalid shipping rates: %w", err)
			}
			rates = parsed
		}
		return shipping.NewFlatRateProvider(rates, cfg.FreeShippingCents), nil

	default:
		return nil, ErrUnknownProvider(ProviderTypeShipping, name)
	}
}

// CreateTaxCalculator creates a tax calculator based on the provider name in config.
func CreateTaxCalculator(cfg Config) (tax.Calculator, error) {
	name := cfg.taxName()
	switch name {
	case ProviderNameNoTax:
		return tax.NewNoTaxCalculator(), nil

	case ProviderNamePercentage:
		if !cfg.TaxRate.IsPositive() {
			return nil, ErrMissingField(ProviderTypeTax, name, "tax rate")
		}
		return tax.NewPercentageCalculator(cfg.TaxRate), nil

	case ProviderNameStripeTax:
		// Stripe Tax reuses the API key set by the Stripe billing provider.
		if cfg.billingName() != ProviderNameStripe {
			return nil, &ProviderError{Type: ProviderTypeTax, Name: name, Message: "requires the stripe billing provider"}
		}
		return billing.NewStripeTaxCalculator(), nil

	default:
		return nil, ErrUnknownProvider(ProviderTypeTax, name)
	}
}
