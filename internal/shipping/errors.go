package shipping

// ============================================================================
// SHIPPING ERROR CODES
// ============================================================================
// These constants mirror domain error codes to avoid circular imports.
// The handler layer maps these to HTTP status codes.

const (
	codeInternal    = "internal"
	codeInvalid     = "invalid"
	codeUnavailable = "unavailable" // For service-level errors like no rates
)

// ============================================================================
// SHIPPING ERROR TYPE
// ============================================================================

// ShippingError represents a shipping-specific error with a code and message.
// It implements the domain.Error interface pattern for consistent HTTP status mapping.
type ShippingError struct {
	Code    string
	Message string
}

func (e *ShippingError) Error() string {
	return e.Message
}

// ErrorCode returns the error code for HTTP status mapping.
func (e *ShippingError) ErrorCode() string {
	return e.Code
}

// ErrorMessage returns the user-facing message.
func (e *ShippingError) ErrorMessage() string {
	return e.Message
}

// newShippingError creates a new shipping error.
func newShippingError(code, message string) *ShippingError {
	return &ShippingError{Code: code, Message: message}
}

// ============================================================================
// SHIPPING DOMAIN ERRORS
// ============================================================================

var (
	// ErrNoPackages is returned when no packages are provided.
	ErrNoPackages = newShippingError(codeInvalid, "At least one package is required")

	// ErrDestinationRequired is returned when the destination has no country.
	ErrDestinationRequired = newShippingError(codeInvalid, "Destination address is required")

	// ErrNoRates is returned when no shipping rates are available.
	ErrNoRates = newShippingError(codeUnavailable, "No shipping rates available")

	// ErrInvalidRate is returned when a rate ID is invalid or expired.
	ErrInvalidRate = newShippingError(codeInvalid, "Invalid or expired rate")

	// ErrInvalidRateConfig is returned when flat rates cannot be parsed.
	ErrInvalidRateConfig = newShippingError(codeInternal, "Invalid flat rate configuration")
)
