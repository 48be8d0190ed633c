package api

import (
	"time"

	"github.com/dukerupert/kaupa/internal/address"
	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/google/uuid"
)

type cartItemResponse struct {
	ID             uuid.UUID      `json:"id"`
	VariantID      uuid.UUID      `json:"variant_id"`
	SKU            string         `json:"sku"`
	Name           string         `json:"name"`
	Options        domain.Options `json:"options,omitempty"`
	Quantity       int32          `json:"quantity"`
	UnitPriceCents int64          `json:"unit_price_cents"`
	LineTotalCents int64          `json:"line_total_cents"`
}

type cartResponse struct {
	CartID        *uuid.UUID         `json:"cart_id,omitempty"`
	Items         []cartItemResponse `json:"items"`
	ItemCount     int                `json:"item_count"`
	SubtotalCents int64              `json:"subtotal_cents"`
}

func newCartResponse(s *domain.CartSummary) cartResponse {
	resp := cartResponse{Items: []cartItemResponse{}}
	if s == nil {
		return resp
	}
	if s.CartID != uuid.Nil {
		id := s.CartID
		resp.CartID = &id
	}
	for _, it := range s.Items {
		resp.Items = append(resp.Items, cartItemResponse{
			ID:             it.ID,
			VariantID:      it.VariantID,
			SKU:            it.SKU,
			Name:           it.Name,
			Options:        it.Options,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			LineTotalCents: it.LineSubtotalCents(),
		})
	}
	resp.ItemCount = s.ItemCount
	resp.SubtotalCents = s.SubtotalCents
	return resp
}

type droppedLineResponse struct {
	VariantID uuid.UUID      `json:"variant_id"`
	SKU       string         `json:"sku"`
	Options   domain.Options `json:"options,omitempty"`
	Quantity  int32          `json:"quantity"`
	Reason    string         `json:"reason"`
}

type mergeResponse struct {
	Cart    cartResponse          `json:"cart"`
	Merged  int                   `json:"merged"`
	Dropped []droppedLineResponse `json:"dropped"`
}

func newMergeResponse(m *domain.MergeResult) mergeResponse {
	resp := mergeResponse{
		Cart:    newCartResponse(m.Cart),
		Merged:  m.Merged,
		Dropped: []droppedLineResponse{},
	}
	for _, d := range m.Dropped {
		resp.Dropped = append(resp.Dropped, droppedLineResponse(d))
	}
	return resp
}

type couponQuoteResponse struct {
	Code          string `json:"code"`
	DiscountType  string `json:"discount_type"`
	DiscountCents int64  `json:"discount_cents"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

type checkoutResponse struct {
	ID           uuid.UUID             `json:"id"`
	State        string                `json:"state"`
	Email        string                `json:"email"`
	Shipping     address.Address       `json:"shipping"`
	ShippingRate string                `json:"shipping_rate"`
	Lines        []domain.CheckoutLine `json:"lines"`
	Totals       domain.Totals         `json:"totals"`
	CouponCode   string                `json:"coupon_code,omitempty"`
	SessionID    string                `json:"session_id,omitempty"`
	RedirectURL  string                `json:"redirect_url,omitempty"`
	ExpiresAt    time.Time             `json:"expires_at"`
}

func newCheckoutResponse(c *domain.Checkout) checkoutResponse {
	lines := c.Lines
	if lines == nil {
		lines = []domain.CheckoutLine{}
	}
	return checkoutResponse{
		ID:           c.ID,
		State:        string(c.State),
		Email:        c.Email,
		Shipping:     c.Shipping,
		ShippingRate: c.ShippingRate,
		Lines:        lines,
		Totals:       c.Totals,
		CouponCode:   c.CouponCode,
		SessionID:    c.PaymentSessionID,
		RedirectURL:  c.PaymentURL,
		ExpiresAt:    c.ExpiresAt,
	}
}

type checkoutStatusResponse struct {
	CheckoutID    uuid.UUID `json:"checkout_id"`
	State         string    `json:"state"`
	PaymentStatus string    `json:"payment_status"`
	Status        string    `json:"status"`
	OrderNumber   string    `json:"order_number,omitempty"`
}

type orderItemResponse struct {
	VariantID      uuid.UUID      `json:"variant_id"`
	SKU            string         `json:"sku"`
	Name           string         `json:"name"`
	Options        domain.Options `json:"options,omitempty"`
	Quantity       int32          `json:"quantity"`
	UnitPriceCents int64          `json:"unit_price_cents"`
	LineTotalCents int64          `json:"line_total_cents"`
}

type orderEventResponse struct {
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type orderResponse struct {
	ID         uuid.UUID            `json:"id"`
	Number     string               `json:"number"`
	Status     string               `json:"status"`
	Email      string               `json:"email,omitempty"`
	Shipping   *address.Address     `json:"shipping,omitempty"`
	Items      []orderItemResponse  `json:"items"`
	Totals     domain.Totals        `json:"totals"`
	CouponCode string               `json:"coupon_code,omitempty"`
	History    []orderEventResponse `json:"history,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// newOrderResponse renders an order. Contact and shipping details are only
// included when full is set, i.e. the caller proved they own the order.
func newOrderResponse(d *domain.OrderDetail, full bool) orderResponse {
	o := d.Order
	resp := orderResponse{
		ID:         o.ID,
		Number:     o.Number,
		Status:     string(o.Status),
		Items:      []orderItemResponse{},
		Totals:     o.Totals,
		CouponCode: o.CouponCode,
		CreatedAt:  o.CreatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			VariantID:      it.VariantID,
			SKU:            it.SKU,
			Name:           it.Name,
			Options:        it.Options,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			LineTotalCents: it.LineTotalCents,
		})
	}
	if !full {
		return resp
	}

	resp.Email = o.Email
	shipping := o.Shipping
	resp.Shipping = &shipping
	for _, e := range d.Events {
		resp.History = append(resp.History, orderEventResponse{
			From:      string(e.FromStatus),
			To:        string(e.ToStatus),
			Note:      e.Note,
			CreatedAt: e.CreatedAt,
		})
	}
	return resp
}
