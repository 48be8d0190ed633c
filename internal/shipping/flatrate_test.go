package shipping_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/kaupa/internal/address"
	"github.com/dukerupert/kaupa/internal/shipping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(subtotal int64) shipping.RateParams {
	return shipping.RateParams{
		Destination: address.Address{
			AddressLine1: "123 Main St",
			City:         "Seattle",
			State:        "WA",
			PostalCode:   "98101",
			Country:      "US",
		},
		Packages:      []shipping.Package{{WeightGrams: 454, LengthCm: 20, WidthCm: 15, HeightCm: 10}},
		SubtotalCents: subtotal,
	}
}

func TestFlatRateProvider_GetRates(t *testing.T) {
	provider := shipping.NewFlatRateProvider(shipping.DefaultFlatRates, 0)

	result, err := provider.GetRates(context.Background(), testParams(2500))
	require.NoError(t, err)
	require.Len(t, result, 2)

	std := result[0]
	assert.Equal(t, "standard", std.RateID)
	assert.Equal(t, "Flat Rate", std.Carrier)
	assert.Equal(t, int64(795), std.CostCents)
	assert.Equal(t, 3, std.EstimatedDaysMin)
	assert.Equal(t, 5, std.EstimatedDaysMax)
	assert.True(t, std.EstimatedDeliveryDate.After(time.Now()))
}

func TestFlatRateProvider_FreeShippingThreshold(t *testing.T) {
	provider := shipping.NewFlatRateProvider(shipping.DefaultFlatRates, 5000)

	tests := []struct {
		name     string
		subtotal int64
		wantCost int64
	}{
		{"below threshold", 4999, 795},
		{"at threshold", 5000, 0},
		{"above threshold", 12000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := provider.GetRates(context.Background(), testParams(tt.subtotal))
			require.NoError(t, err)
			assert.Equal(t, tt.wantCost, result[0].CostCents)
		})
	}
}

func TestFlatRateProvider_Errors(t *testing.T) {
	provider := shipping.NewFlatRateProvider(shipping.DefaultFlatRates, 0)

	t.Run("missing destination", func(t *testing.T) {
		params := testParams(100)
		params.Destination = address.Address{}
		_, err := provider.GetRates(context.Background(), params)
		assert.True(t, errors.Is(err, shipping.ErrDestinationRequired))
	})

	t.Run("no packages", func(t *testing.T) {
		params := testParams(100)
		params.Packages = nil
		_, err := provider.GetRates(context.Background(), params)
		assert.True(t, errors.Is(err, shipping.ErrNoPackages))
	})

	t.Run("no configured rates", func(t *testing.T) {
		empty := shipping.NewFlatRateProvider(nil, 0)
		_, err := empty.GetRates(context.Background(), testParams(100))
		assert.True(t, errors.Is(err, shipping.ErrNoRates))
		assert.Equal(t, "unavailable", shipping.ErrNoRates.ErrorCode())
	})
}

func TestFindRate(t *testing.T) {
	rates := []shipping.Rate{{RateID: "standard", CostCents: 795}, {RateID: "express", CostCents: 1995}}

	r, err := shipping.FindRate(rates, "express")
	require.NoError(t, err)
	assert.Equal(t, int64(1995), r.CostCents)

	_, err = shipping.FindRate(rates, "overnight")
	assert.ErrorIs(t, err, shipping.ErrInvalidRate)
}

func TestParseFlatRates(t *testing.T) {
	t.Run("parses entries", func(t *testing.T) {
		rates, err := shipping.ParseFlatRates("ground:Ground:595:4:7, air:Two Day:1495:2:2")
		require.NoError(t, err)
		require.Len(t, rates, 2)
		assert.Equal(t, shipping.FlatRate{ServiceCode: "air", ServiceName: "Two Day", CostCents: 1495, DaysMin: 2, DaysMax: 2}, rates[1])
	})

	t.Run("empty string", func(t *testing.T) {
		rates, err := shipping.ParseFlatRates("  ")
		require.NoError(t, err)
		assert.Nil(t, rates)
	})

	bad := []string{"ground:Ground:595:4", "ground:Ground:abc:4:7", "ground:Ground:595:7:4", "ground:Ground:-5:1:2"}
	for _, s := range bad {
		t.Run("rejects "+s, func(t *testing.T) {
			_, err := shipping.ParseFlatRates(s)
			assert.ErrorIs(t, err, shipping.ErrInvalidRateConfig)
		})
	}
}
