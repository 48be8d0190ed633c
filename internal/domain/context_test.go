package domain

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestOwnerContext(t *testing.T) {
	t.Run("OwnerFromContext reports absence", func(t *testing.T) {
		_, ok := OwnerFromContext(context.Background())
		if ok {
			t.Error("expected no owner in empty context")
		}
	})

	t.Run("OwnerFromContext returns owner when set", func(t *testing.T) {
		expected := GuestOwner("guest-abc")
		ctx := NewContextWithOwner(context.Background(), expected)

		owner, ok := OwnerFromContext(ctx)
		if !ok {
			t.Fatal("expected owner, got none")
		}
		if owner != expected {
			t.Errorf("expected %v, got %v", expected, owner)
		}
	})

	t.Run("MustOwner panics when no owner", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic, got none")
			}
		}()
		MustOwner(context.Background())
	})

	t.Run("MustOwner returns owner when set", func(t *testing.T) {
		expected := UserOwner(uuid.New())
		ctx := NewContextWithOwner(context.Background(), expected)

		if got := MustOwner(ctx); got != expected {
			t.Errorf("expected %v, got %v", expected, got)
		}
	})
}

func TestPrincipalContext(t *testing.T) {
	t.Run("PrincipalFromContext returns nil when unauthenticated", func(t *testing.T) {
		ctx := context.Background()
		if p := PrincipalFromContext(ctx); p != nil {
			t.Errorf("expected nil principal, got %+v", p)
		}
		if IsAuthenticated(ctx) {
			t.Error("expected IsAuthenticated to be false")
		}
	})

	t.Run("admin role", func(t *testing.T) {
		p := &Principal{UserID: uuid.New(), Role: RoleAdmin}
		ctx := NewContextWithPrincipal(context.Background(), p)

		got := PrincipalFromContext(ctx)
		if got == nil || got.UserID != p.UserID {
			t.Fatalf("expected principal %v, got %v", p, got)
		}
		if !got.IsAdmin() {
			t.Error("expected admin principal")
		}
		if !IsAuthenticated(ctx) {
			t.Error("expected IsAuthenticated to be true")
		}
	})

	t.Run("nil principal is not admin", func(t *testing.T) {
		var p *Principal
		if p.IsAdmin() {
			t.Error("nil principal must not be admin")
		}
	})
}

func TestRequestIDContext(t *testing.T) {
	t.Run("RequestIDFromContext returns empty string when no request ID", func(t *testing.T) {
		if got := RequestIDFromContext(context.Background()); got != "" {
			t.Errorf("expected empty string, got %q", got)
		}
	})

	t.Run("RequestIDFromContext returns request ID when set", func(t *testing.T) {
		ctx := NewContextWithRequestID(context.Background(), "req-123")
		if got := RequestIDFromContext(ctx); got != "req-123" {
			t.Errorf("expected %q, got %q", "req-123", got)
		}
	})
}

func TestMultipleContextValues(t *testing.T) {
	owner := UserOwner(uuid.New())
	principal := &Principal{UserID: owner.UserID, Role: RoleCustomer}

	ctx := context.Background()
	ctx = NewContextWithOwner(ctx, owner)
	ctx = NewContextWithPrincipal(ctx, principal)
	ctx = NewContextWithRequestID(ctx, "req-456")

	if got := MustOwner(ctx); got != owner {
		t.Errorf("owner = %v, want %v", got, owner)
	}
	if got := PrincipalFromContext(ctx); got != principal {
		t.Errorf("principal = %v, want %v", got, principal)
	}
	if got := RequestIDFromContext(ctx); got != "req-456" {
		t.Errorf("request id = %q, want %q", got, "req-456")
	}
}
