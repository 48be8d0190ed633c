package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CART DOMAIN ERRORS
// =============================================================================

var (
	ErrCartNotFound     = &Error{Code: ENOTFOUND, Message: "Cart not found"}
	ErrCartItemNotFound = &Error{Code: ENOTFOUND, Message: "Cart item not found"}
	ErrVariantNotFound  = &Error{Code: ENOTFOUND, Message: "Product variant not found"}
	ErrInvalidQuantity  = &Error{Code: EINVALID, Message: "Quantity must be greater than 0"}
	ErrEmptyCart        = &Error{Code: EINVALID, Message: "Cart is empty"}
)

// MaxLineQuantity caps a single cart line.
const MaxLineQuantity = 999

// CartService provides business logic for shopping cart operations.
// Every call is scoped to the owner resolved for the request.
type CartService interface {
	// AddItem adds a variant to the cart or increments the existing line,
	// holding stock for the new total. The cart is created on first add.
	// On ErrInsufficientStock the cart is left unchanged.
	AddItem(ctx context.Context, owner Owner, variantID uuid.UUID, qty int32, opts Options) (*CartSummary, error)

	// UpdateQuantity sets a line's quantity. A quantity of 0 removes the line.
	UpdateQuantity(ctx context.Context, owner Owner, itemID uuid.UUID, qty int32) (*CartSummary, error)

	// RemoveItem removes a line and releases its hold.
	RemoveItem(ctx context.Context, owner Owner, itemID uuid.UUID) (*CartSummary, error)

	// MergeGuestIntoUser folds a guest cart into the user's cart on login.
	// Lines that can no longer be held are dropped and reported.
	MergeGuestIntoUser(ctx context.Context, guestID string, userID uuid.UUID) (*MergeResult, error)

	// Summary returns the cart with items and totals. An owner with no cart
	// gets an empty summary.
	Summary(ctx context.Context, owner Owner) (*CartSummary, error)
}

// Cart is the owner-keyed container of line items.
type Cart struct {
	ID        uuid.UUID
	Owner     Owner
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem is a cart line joined with its variant's current details.
type CartItem struct {
	ID             uuid.UUID
	CartID         uuid.UUID
	VariantID      uuid.UUID
	SKU            string
	Name           string
	Options        Options
	OptionsKey     string
	Quantity       int32
	UnitPriceCents int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LineSubtotalCents is unit price times quantity.
func (i CartItem) LineSubtotalCents() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}

// CartSummary aggregates cart information with items and calculated totals.
type CartSummary struct {
	CartID        uuid.UUID
	Owner         Owner
	Items         []CartItem
	SubtotalCents int64
	ItemCount     int
}

// NewCartSummary totals items. ItemCount is the number of units, not lines.
func NewCartSummary(cartID uuid.UUID, owner Owner, items []CartItem) *CartSummary {
	s := &CartSummary{
		CartID: cartID,
		Owner:  owner,
		Items:  items,
	}
	if s.Items == nil {
		s.Items = []CartItem{}
	}
	for _, it := range items {
		s.SubtotalCents += it.LineSubtotalCents()
		s.ItemCount += int(it.Quantity)
	}
	return s
}

// DroppedLine is a guest line that could not be carried into the user cart.
type DroppedLine struct {
	VariantID uuid.UUID
	SKU       string
	Options   Options
	Quantity  int32
	Reason    string
}

// MergeResult reports the outcome of a guest to user cart merge.
type MergeResult struct {
	Cart    *CartSummary
	Merged  int
	Dropped []DroppedLine
}
