package address_test

import (
	"context"
	"testing"

	"github.com/dukerupert/kaupa/internal/address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validUSAddress() address.Address {
	return address.Address{
		FullName:     "Ada Lovelace",
		AddressLine1: "123 Main St",
		City:         "Seattle",
		State:        "wa",
		PostalCode:   "98101",
		Country:      "us",
		Phone:        "206-555-0100",
	}
}

func TestBasicValidator_NormalizesValidAddress(t *testing.T) {
	v := address.NewBasicValidator()

	addr := validUSAddress()
	addr.City = "  Seattle "

	result, err := v.Validate(context.Background(), addr)

	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	require.NotNil(t, result.NormalizedAddress)
	assert.Equal(t, "WA", result.NormalizedAddress.State)
	assert.Equal(t, "US", result.NormalizedAddress.Country)
	assert.Equal(t, "Seattle", result.NormalizedAddress.City)
}

func TestBasicValidator_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(a *address.Address)
		field  string
	}{
		{"missing name", func(a *address.Address) { a.FullName = "" }, "full_name"},
		{"missing line1", func(a *address.Address) { a.AddressLine1 = " " }, "address_line1"},
		{"missing city", func(a *address.Address) { a.City = "" }, "city"},
		{"bad country", func(a *address.Address) { a.Country = "USA" }, "country"},
		{"bad zip", func(a *address.Address) { a.PostalCode = "9810" }, "postal_code"},
		{"missing US state", func(a *address.Address) { a.State = "" }, "state"},
	}

	v := address.NewBasicValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := validUSAddress()
			tt.modify(&addr)

			result, err := v.Validate(context.Background(), addr)

			require.NoError(t, err)
			assert.False(t, result.IsValid)
			fields := make([]string, 0, len(result.Errors))
			for _, e := range result.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestBasicValidator_InternationalPostalCode(t *testing.T) {
	v := address.NewBasicValidator()

	result, err := v.Validate(context.Background(), address.Address{
		FullName:     "Sherlock Holmes",
		AddressLine1: "221B Baker Street",
		City:         "London",
		PostalCode:   "nw1 6xe",
		Country:      "GB",
	})

	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, "NW1 6XE", result.NormalizedAddress.PostalCode)
	assert.NotEmpty(t, result.Warnings)
}
