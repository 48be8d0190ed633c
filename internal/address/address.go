// Package address validates and normalizes shipping addresses captured at
// pricing lock.
package address

import "context"

// Validator defines the interface for address validation.
// Implementations can use external APIs like USPS or SmartyStreets; the
// BasicValidator only checks format.
type Validator interface {
	// Validate checks if an address is valid and deliverable.
	// Returns normalized address if validation succeeds.
	// Even if IsValid is false, NormalizedAddress may contain corrections.
	Validate(ctx context.Context, addr Address) (*ValidationResult, error)
}

// Address represents a physical address for shipping.
type Address struct {
	FullName     string `json:"full_name"`
	Company      string `json:"company,omitempty"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
	Phone        string `json:"phone,omitempty"`
}

// IsZero reports whether no field is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ValidationResult contains the outcome of address validation.
type ValidationResult struct {
	IsValid           bool
	NormalizedAddress *Address
	Errors            []ValidationError
	Warnings          []string
}

// ValidationError represents a specific validation error.
type ValidationError struct {
	Field   string
	Message string
}
