package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	ownerUserPrefix  = "user:"
	ownerGuestPrefix = "guest:"

	maxGuestIDLength = 128
)

// Owner identifies who a cart, reservation or checkout belongs to.
// Exactly one of UserID or GuestID is set.
type Owner struct {
	UserID  uuid.UUID
	GuestID string
}

// UserOwner returns an owner for an authenticated user.
func UserOwner(id uuid.UUID) Owner {
	return Owner{UserID: id}
}

// GuestOwner returns an owner for an anonymous guest session.
func GuestOwner(id string) Owner {
	return Owner{GuestID: id}
}

// NewGuestID generates a fresh guest session identifier.
func NewGuestID() string {
	return uuid.NewString()
}

func (o Owner) IsUser() bool {
	return o.UserID != uuid.Nil && o.GuestID == ""
}

func (o Owner) IsGuest() bool {
	return o.UserID == uuid.Nil && o.GuestID != ""
}

// IsZero reports whether neither identity is set.
func (o Owner) IsZero() bool {
	return o.UserID == uuid.Nil && o.GuestID == ""
}

// Validate checks that exactly one identity is set and that a guest id is
// safe to use as a storage key.
func (o Owner) Validate() error {
	switch {
	case o.IsUser():
		return nil
	case o.IsGuest():
		return ValidateGuestID(o.GuestID)
	case o.IsZero():
		return Invalid("owner.validate", "owner is required")
	default:
		return Invalid("owner.validate", "owner must be either a user or a guest, not both")
	}
}

// Key renders the owner as a stable storage key: "user:<uuid>" or "guest:<id>".
func (o Owner) Key() string {
	if o.IsUser() {
		return ownerUserPrefix + o.UserID.String()
	}
	return ownerGuestPrefix + o.GuestID
}

func (o Owner) String() string {
	return o.Key()
}

// ParseOwnerKey is the inverse of Owner.Key.
func ParseOwnerKey(key string) (Owner, error) {
	switch {
	case strings.HasPrefix(key, ownerUserPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(key, ownerUserPrefix))
		if err != nil || id == uuid.Nil {
			return Owner{}, Invalid("owner.parse", fmt.Sprintf("invalid user owner key: %q", key))
		}
		return UserOwner(id), nil
	case strings.HasPrefix(key, ownerGuestPrefix):
		o := GuestOwner(strings.TrimPrefix(key, ownerGuestPrefix))
		if err := ValidateGuestID(o.GuestID); err != nil {
			return Owner{}, err
		}
		return o, nil
	default:
		return Owner{}, Invalid("owner.parse", fmt.Sprintf("unknown owner key: %q", key))
	}
}

// ValidateGuestID accepts non-empty ids of letters, digits, '-' and '_'.
func ValidateGuestID(id string) error {
	if id == "" {
		return Invalid("owner.validate", "guest id is required")
	}
	if len(id) > maxGuestIDLength {
		return Invalid("owner.validate", "guest id is too long")
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return Invalid("owner.validate", "guest id contains invalid characters")
		}
	}
	return nil
}
