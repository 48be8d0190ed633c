package address

import (
	"context"
	"regexp"
	"strings"
)

var (
	usZipPattern  = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	countryFormat = regexp.MustCompile(`^[A-Z]{2}$`)
)

// BasicValidator performs basic format validation without external API calls.
// Checks for required fields and basic format rules (e.g., ZIP code format).
type BasicValidator struct{}

// NewBasicValidator creates a new basic address validator.
func NewBasicValidator() Validator {
	return &BasicValidator{}
}

// Validate trims every field, upper-cases country and state codes, and
// reports missing or malformed fields.
func (v *BasicValidator) Validate(ctx context.Context, addr Address) (*ValidationResult, error) {
	n := Address{
		FullName:     strings.TrimSpace(addr.FullName),
		Company:      strings.TrimSpace(addr.Company),
		AddressLine1: strings.TrimSpace(addr.AddressLine1),
		AddressLine2: strings.TrimSpace(addr.AddressLine2),
		City:         strings.TrimSpace(addr.City),
		State:        strings.ToUpper(strings.TrimSpace(addr.State)),
		PostalCode:   strings.ToUpper(strings.TrimSpace(addr.PostalCode)),
		Country:      strings.ToUpper(strings.TrimSpace(addr.Country)),
		Phone:        strings.TrimSpace(addr.Phone),
	}

	result := &ValidationResult{NormalizedAddress: &n}

	required := []struct{ field, value string }{
		{"full_name", n.FullName},
		{"address_line1", n.AddressLine1},
		{"city", n.City},
		{"postal_code", n.PostalCode},
		{"country", n.Country},
	}
	for _, r := range required {
		if r.value == "" {
			result.Errors = append(result.Errors, ValidationError{Field: r.field, Message: "is required"})
		}
	}

	if n.Country != "" && !countryFormat.MatchString(n.Country) {
		result.Errors = append(result.Errors, ValidationError{Field: "country", Message: "must be a two-letter ISO country code"})
	}

	if n.Country == "US" {
		if n.State == "" {
			result.Errors = append(result.Errors, ValidationError{Field: "state", Message: "is required for US addresses"})
		}
		if n.PostalCode != "" && !usZipPattern.MatchString(n.PostalCode) {
			result.Errors = append(result.Errors, ValidationError{Field: "postal_code", Message: "must be a 5 or 9 digit ZIP code"})
		}
	}

	if n.Phone == "" {
		result.Warnings = append(result.Warnings, "no phone number provided for carrier contact")
	}

	result.IsValid = len(result.Errors) == 0
	return result, nil
}
