package domain

import (
	"errors"
	"fmt"
)

// Application error codes.
// These map to HTTP status codes and determine user-facing messages.
const (
	ECONFLICT     = "conflict"         // 409 - Resource conflict (stock, duplicate finalization)
	EINTERNAL     = "internal"         // 500 - Internal server error (hide details)
	EINVALID      = "invalid"          // 400 - Validation error (bad input, coupon rejected)
	ENOTFOUND     = "not_found"        // 404 - Resource not found
	EUNAUTHORIZED = "unauthorized"     // 401 - Authentication required or signature invalid
	EFORBIDDEN    = "forbidden"        // 403 - Authenticated but not permitted
	ENOTIMPL      = "not_implemented"  // 501 - Feature not implemented
	ERATELIMIT    = "rate_limit"       // 429 - Too many requests
	EPAYMENT      = "payment_required" // 402 - Payment failed or required
	EGONE         = "gone"             // 410 - Resource permanently deleted
	ETOOLARGE     = "too_large"        // 413 - Request body too large
	EUNAVAILABLE  = "unavailable"      // 503 - Transient failure, safe to retry
)

// Error represents an application error with a code and message.
// It implements the error interface and supports error wrapping.
type Error struct {
	// Code is a machine-readable error code (e.g., EINVALID, ENOTFOUND).
	Code string

	// Message is a human-readable error message safe to show to users.
	Message string

	// Op is the operation where the error occurred (e.g., "cart.add_item").
	// Used for debugging and logging, not shown to users.
	Op string

	// Err is the underlying error, if any. Used for error wrapping.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel *Error with the same code and message.
// This lets a sentinel survive being re-wrapped with an Op by WithOp.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && e.Code == t.Code && e.Message == t.Message
}

// codedError is implemented by package-local error types (shipping, tax)
// that cannot import domain but still carry a code.
type codedError interface {
	error
	ErrorCode() string
	ErrorMessage() string
}

// ErrorCode extracts the error code from an error.
// Returns EINTERNAL for nil or non-domain errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	var ce codedError
	if errors.As(err, &ce) {
		return ce.ErrorCode()
	}

	return EINTERNAL
}

// ErrorMessage extracts a user-facing message from an error.
// For internal errors, returns a generic message to avoid leaking details.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Code == EINTERNAL {
			return "An internal error occurred. Please try again later."
		}
		return e.Message
	}

	var ce codedError
	if errors.As(err, &ce) && ce.ErrorCode() != EINTERNAL {
		return ce.ErrorMessage()
	}

	return "An internal error occurred. Please try again later."
}

// ErrorOp extracts the operation from an error (for logging).
func ErrorOp(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}

	return ""
}

// Errorf creates a new domain error with formatted message.
// Example: domain.Errorf(domain.EINVALID, "cart.add_item", "quantity must be positive: %d", qty)
func Errorf(code, op, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with a domain error code and operation.
// Returns nil if err is nil.
// Example: domain.WrapError(err, domain.EINTERNAL, "order.finalize", "failed to save order")
func WrapError(err error, code, op, message string) error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// WithOp returns a copy of a domain error annotated with op.
// Non-domain errors are wrapped as internal errors.
func WithOp(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op != "" {
			return err
		}
		return &Error{Code: e.Code, Message: e.Message, Op: op, Err: e.Err}
	}
	return Internal(err, op, "unexpected error")
}

// IsCode returns true if err has the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// =============================================================================
// Validation Errors (field-level errors for request bodies)
// =============================================================================

// ValidationError represents one or more field validation failures.
type ValidationError struct {
	// Fields maps field names to error messages.
	Fields map[string]string

	// Op is the operation where validation failed.
	Op string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		for field, msg := range e.Fields {
			if e.Op != "" {
				return fmt.Sprintf("%s: %s: %s", e.Op, field, msg)
			}
			return fmt.Sprintf("%s: %s", field, msg)
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: validation failed for %d fields", e.Op, len(e.Fields))
	}
	return fmt.Sprintf("validation failed for %d fields", len(e.Fields))
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(op, field, message string) error {
	return &ValidationError{
		Op:     op,
		Fields: map[string]string{field: message},
	}
}

// AddFieldError adds a field error to an existing ValidationError.
// If err is nil or not a ValidationError, creates a new one with the field.
func AddFieldError(err error, field, message string) error {
	var ve *ValidationError
	if err != nil && errors.As(err, &ve) {
		ve.Fields[field] = message
		return ve
	}

	return &ValidationError{
		Fields: map[string]string{field: message},
	}
}

// IsValidationError returns true if err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// GetValidationFields extracts field errors from a ValidationError.
// Returns nil if err is not a ValidationError.
func GetValidationFields(err error) map[string]string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// =============================================================================
// Checkout consistency errors
// =============================================================================

var (
	// ErrInsufficientStock is a normal business outcome: the shopper asked for
	// more units than are available to sell.
	ErrInsufficientStock = &Error{Code: ECONFLICT, Message: "Not enough stock available for this item"}

	// ErrPaymentVerificationFailed is returned when a webhook signature does not verify.
	// Callers see a generic denial; details go to the security log.
	ErrPaymentVerificationFailed = &Error{Code: EUNAUTHORIZED, Message: "Payment notification could not be verified"}

	// ErrAlreadyFinalized marks an idempotent replay of finalization.
	// The existing order is returned alongside it.
	ErrAlreadyFinalized = &Error{Code: ECONFLICT, Message: "Order already finalized for this payment"}

	// ErrFinalizationFailed halts automatic processing of a paid checkout.
	// The order is flagged for manual reconciliation.
	ErrFinalizationFailed = &Error{Code: EINTERNAL, Message: "Order finalization failed and was flagged for review"}

	// ErrUnauthorized is returned when an owner touches a cart item, reservation
	// or checkout that belongs to someone else.
	ErrUnauthorized = &Error{Code: EFORBIDDEN, Message: "You don't have permission to modify this resource"}

	// ErrLedgerDesync is returned by commit when the held quantity no longer
	// covers the requested units.
	ErrLedgerDesync = &Error{Code: EINTERNAL, Message: "Stock ledger out of sync with reservations"}

	// ErrStoreUnavailable is surfaced once bounded retries of a transient store
	// failure are exhausted.
	ErrStoreUnavailable = &Error{Code: EUNAVAILABLE, Message: "Service temporarily unavailable. Please try again."}

	// ErrInvalidTransition is returned for any state change not in a transition table.
	ErrInvalidTransition = &Error{Code: ECONFLICT, Message: "Status change not allowed from the current state"}
)

// CouponInvalid creates a coupon rejection with a human-readable reason.
// Example: domain.CouponInvalid("checkout.lock_pricing", "This coupon has expired")
func CouponInvalid(op, reason string) error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: reason,
		Err:     errCouponInvalid,
	}
}

var errCouponInvalid = errors.New("coupon invalid")

// IsCouponInvalid reports whether err is a coupon rejection.
func IsCouponInvalid(err error) bool {
	return errors.Is(err, errCouponInvalid)
}

// =============================================================================
// Common errors (convenience)
// =============================================================================

// NotFound creates a not found error for a resource.
// Example: domain.NotFound("cart.update_item", "cart item", itemID.String())
func NotFound(op, resource, identifier string) error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(op, message string) error {
	return &Error{
		Code:    EUNAUTHORIZED,
		Op:      op,
		Message: message,
	}
}

// Forbidden creates a forbidden error.
func Forbidden(op, message string) error {
	return &Error{
		Code:    EFORBIDDEN,
		Op:      op,
		Message: message,
	}
}

// Invalid creates a validation error for a single issue.
func Invalid(op, message string) error {
	return &Error{
		Code:    EINVALID,
		Op:      op,
		Message: message,
	}
}

// Conflict creates a conflict error.
func Conflict(op, message string) error {
	return &Error{
		Code:    ECONFLICT,
		Op:      op,
		Message: message,
	}
}

// Internal creates an internal error (wraps underlying error).
// The message shown to users will be generic; the underlying error is for logging.
func Internal(err error, op, message string) error {
	return &Error{
		Code:    EINTERNAL,
		Op:      op,
		Message: message,
		Err:     err,
	}
}
