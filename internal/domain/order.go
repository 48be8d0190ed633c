package domain

import (
	"context"
	"strings"
	"time"

	"github.com/dukerupert/kaupa/internal/address"
	"github.com/google/uuid"
)

// Order-related domain errors.
var (
	ErrOrderNotFound     = &Error{Code: ENOTFOUND, Message: "Order not found"}
	ErrMissingCheckoutID = &Error{Code: EINVALID, Message: "Checkout ID missing from payment metadata"}
	ErrMissingPaymentRef = &Error{Code: EINVALID, Message: "Payment reference is required"}
	ErrCheckoutClosed    = &Error{Code: ECONFLICT, Message: "Checkout can no longer be paid"}
	ErrOrderFlagged      = &Error{Code: ECONFLICT, Message: "Order is flagged for manual review"}
)

// OrderStatus is the fulfilment lifecycle position of an order.
type OrderStatus string

const (
	OrderPending            OrderStatus = "pending"
	OrderPaid               OrderStatus = "paid"
	OrderShipped            OrderStatus = "shipped"
	OrderDelivered          OrderStatus = "delivered"
	OrderReturnRequested    OrderStatus = "return_requested"
	OrderReturnApproved     OrderStatus = "return_approved"
	OrderRefunded           OrderStatus = "refunded"
	OrderCancelled          OrderStatus = "cancelled"
	OrderFinalizationFailed OrderStatus = "finalization_failed"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:            {OrderPaid, OrderCancelled},
	OrderPaid:               {OrderShipped, OrderReturnRequested, OrderCancelled},
	OrderShipped:            {OrderDelivered},
	OrderDelivered:          {OrderReturnRequested},
	OrderReturnRequested:    {OrderReturnApproved},
	OrderReturnApproved:     {OrderRefunded},
	OrderFinalizationFailed: {OrderCancelled},
}

// CanTransitionTo reports whether s may move to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok || s == OrderRefunded || s == OrderCancelled
}

// Order is the immutable record of a purchase. Only Status changes after
// creation, and orders are never deleted.
type Order struct {
	ID            uuid.UUID
	Number        string
	CheckoutID    uuid.UUID
	Owner         Owner
	Email         string
	Shipping      address.Address
	Items         []OrderItem
	Totals        Totals
	CouponCode    string
	Status        OrderStatus
	PaymentRef    string
	FailureReason string
	// StockCommitted is set when finalization moved the units to sold.
	// Cancelling returns them to stock only then.
	StockCommitted bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderItem is a line copied from the checkout's price snapshot.
type OrderItem struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	VariantID      uuid.UUID
	SKU            string
	Name           string
	Options        Options
	Quantity       int32
	UnitPriceCents int64
	LineTotalCents int64
}

// OrderEvent records one status change.
type OrderEvent struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Note       string
	CreatedAt  time.Time
}

// OrderDetail aggregates an order with its status history.
type OrderDetail struct {
	Order  Order
	Events []OrderEvent
}

// OrderNumberPrefix starts every human-facing order number.
const OrderNumberPrefix = "KP-"

// NewOrderNumber returns a short human-facing order number like KP-261019-3F9A1C.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return OrderNumberPrefix + now.UTC().Format("060102") + "-" + suffix
}

// FinalizeParams identify a confirmed payment.
type FinalizeParams struct {
	// PaymentRef is the processor's checkout session id; it is the idempotency key.
	PaymentRef string

	// CheckoutID comes from the session metadata.
	CheckoutID uuid.UUID

	// PaymentSettled is false for asynchronous methods still awaiting funds.
	// The order is then created Pending.
	PaymentSettled bool

	// CustomerEmail as collected by the processor, used when the checkout has none.
	CustomerEmail string
}

// OrderService converts paid checkouts into orders and drives their status.
type OrderService interface {
	// Finalize creates the order for a confirmed payment. A repeated call with
	// the same PaymentRef returns the existing order and ErrAlreadyFinalized.
	Finalize(ctx context.Context, params FinalizeParams) (*OrderDetail, error)

	// GetOrderByPaymentRef looks an order up by processor session id.
	GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*OrderDetail, error)

	// LookupGuestOrder finds an order by email and order number.
	LookupGuestOrder(ctx context.Context, email, orderNumber string) (*OrderDetail, error)

	// GetOrderForOwner returns an order only if it belongs to owner.
	GetOrderForOwner(ctx context.Context, owner Owner, orderID uuid.UUID) (*OrderDetail, error)

	// TransitionStatus applies an administrative status change and records it.
	TransitionStatus(ctx context.Context, orderID uuid.UUID, to OrderStatus, note string) (*OrderDetail, error)

	// TransitionByPaymentRef applies a processor-driven status change, such as
	// the outcome of an asynchronous payment.
	TransitionByPaymentRef(ctx context.Context, paymentRef string, to OrderStatus, note string) (*OrderDetail, error)
}
