package api

import (
	"net/http"
	"strings"

	"github.com/dukerupert/kaupa/internal/address"
	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/handler"
	"github.com/dukerupert/kaupa/internal/middleware"
)

// CheckoutHandler serves coupon validation and the /api/checkout routes.
type CheckoutHandler struct {
	carts     domain.CartService
	checkouts domain.CheckoutService
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(carts domain.CartService, checkouts domain.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{carts: carts, checkouts: checkouts}
}

type validateCouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type shippingAddressRequest struct {
	FullName     string `json:"full_name" validate:"required,max=200"`
	Company      string `json:"company" validate:"max=200"`
	AddressLine1 string `json:"address_line1" validate:"required,max=200"`
	AddressLine2 string `json:"address_line2" validate:"max=200"`
	City         string `json:"city" validate:"required,max=100"`
	State        string `json:"state" validate:"max=100"`
	PostalCode   string `json:"postal_code" validate:"required,max=20"`
	Country      string `json:"country" validate:"required,len=2"`
	Phone        string `json:"phone" validate:"max=40"`
}

type lockPricingRequest struct {
	Email        string                 `json:"email" validate:"omitempty,email,max=254"`
	CouponCode   string                 `json:"coupon_code" validate:"max=64"`
	Shipping     shippingAddressRequest `json:"shipping" validate:"required"`
	ShippingRate string                 `json:"shipping_rate" validate:"required,max=64"`
}

// ValidateCoupon handles POST /api/coupons/validate. It quotes the coupon
// against the current cart subtotal without reserving a redemption.
func (h *CheckoutHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	const op = "api.coupon.validate"
	owner, ok := requestOwner(w, r)
	if !ok {
		return
	}

	var req validateCouponRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	summary, err := h.carts.Summary(r.Context(), owner)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	if len(summary.Items) == 0 {
		handler.ErrorResponse(w, r, domain.WithOp(domain.ErrEmptyCart, op))
		return
	}

	quote, err := h.checkouts.ValidateCoupon(r.Context(), owner, req.Code, summary.SubtotalCents)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, couponQuoteResponse{
		Code:          quote.Code,
		DiscountType:  string(quote.DiscountType),
		DiscountCents: quote.DiscountCents,
		SubtotalCents: quote.SubtotalCents,
	})
}

// LockPricing handles POST /api/checkout
func (h *CheckoutHandler) LockPricing(w http.ResponseWriter, r *http.Request) {
	const op = "api.checkout.lock_pricing"
	owner, ok := requestOwner(w, r)
	if !ok {
		return
	}

	var req lockPricingRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	c, err := h.checkouts.LockPricing(r.Context(), owner, domain.LockPricingParams{
		Email:        req.Email,
		CouponCode:   req.CouponCode,
		Shipping:     address.Address(req.Shipping),
		ShippingRate: req.ShippingRate,
	})
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	middleware.GetLogger(r.Context()).Info("pricing locked",
		"checkout_id", c.ID,
		"total_cents", c.Totals.TotalCents,
	)
	handler.WriteJSON(w, http.StatusCreated, newCheckoutResponse(c))
}

// Get handles GET /api/checkout/{id}
func (h *CheckoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := requestOwner(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	c, err := h.checkouts.GetCheckout(r.Context(), owner, id)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newCheckoutResponse(c))
}

// StartPayment handles POST /api/checkout/{id}/pay. Repeating the call
// returns the same session.
func (h *CheckoutHandler) StartPayment(w http.ResponseWriter, r *http.Request) {
	owner, ok := requestOwner(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	c, err := h.checkouts.StartPayment(r.Context(), owner, id)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newCheckoutResponse(c))
}

// Cancel handles POST /api/checkout/{id}/cancel
func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	owner, ok := requestOwner(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	c, err := h.checkouts.Cancel(r.Context(), owner, id)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newCheckoutResponse(c))
}

// Return handles GET /api/checkout/return?session_id=. The answer is
// advisory: only the signed webhook marks a checkout paid.
func (h *CheckoutHandler) Return(w http.ResponseWriter, r *http.Request) {
	const op = "api.checkout.return"
	owner, ok := requestOwner(w, r)
	if !ok {
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		handler.ErrorResponse(w, r, domain.NewValidationError(op, "session_id", "is required"))
		return
	}

	status, err := h.checkouts.VerifyRedirect(r.Context(), owner, sessionID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, checkoutStatusResponse{
		CheckoutID:    status.CheckoutID,
		State:         string(status.State),
		PaymentStatus: status.PaymentStatus,
		Status:        status.Status,
		OrderNumber:   status.OrderNumber,
	})
}
