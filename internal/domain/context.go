// Package domain provides core business types and context helpers for kaupa.
//
// Context helpers centralize request-scoped data access. The owner is resolved
// once per request by middleware and handlers pass it explicitly to services.
package domain

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey int

const (
	// ownerContextKey stores the resolved cart owner.
	ownerContextKey contextKey = iota

	// principalContextKey stores the authenticated bearer identity.
	principalContextKey

	// requestIDContextKey stores the request ID for tracing.
	requestIDContextKey
)

// Roles carried in bearer tokens.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Principal is the authenticated identity behind a bearer token.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

// IsAdmin reports whether the principal may perform operator actions.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// --- Owner Context Helpers ---

// NewContextWithOwner returns a new context with the owner attached.
func NewContextWithOwner(ctx context.Context, owner Owner) context.Context {
	return context.WithValue(ctx, ownerContextKey, owner)
}

// OwnerFromContext retrieves the owner from context.
// The second return value is false if no owner is present.
func OwnerFromContext(ctx context.Context) (Owner, bool) {
	owner, ok := ctx.Value(ownerContextKey).(Owner)
	return owner, ok
}

// MustOwner retrieves the owner from context, panicking if not present.
// The panic will be caught by recovery middleware in HTTP handlers.
func MustOwner(ctx context.Context) Owner {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		panic("owner required in context but not found")
	}
	return owner
}

// --- Principal Context Helpers ---

// NewContextWithPrincipal returns a new context with the principal attached.
func NewContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext retrieves the principal from context.
// Returns nil if the request is not authenticated.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}

// IsAuthenticated returns true if there is a principal in context.
func IsAuthenticated(ctx context.Context) bool {
	return PrincipalFromContext(ctx) != nil
}

// --- Request ID Context Helpers ---

// NewContextWithRequestID returns a new context with the request ID attached.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDContextKey).(string)
	return requestID
}
