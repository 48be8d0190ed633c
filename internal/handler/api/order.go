package api

import (
	"net/http"
	"strings"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/handler"
)

// OrderHandler serves order status for shoppers.
type OrderHandler struct {
	orders domain.OrderService
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders domain.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type guestLookupRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	OrderNumber string `json:"order_number" validate:"required,max=32"`
}

// BySession handles GET /api/orders/by-session/{session_id}, the landing
// call of the payment success page. Anyone holding the session id sees the
// order's status and lines; contact and shipping details are limited to the
// owner.
func (h *OrderHandler) BySession(w http.ResponseWriter, r *http.Request) {
	owner, ok := requestOwner(w, r)
	if !ok {
		return
	}

	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	if sessionID == "" {
		handler.NotFoundResponse(w, r)
		return
	}

	detail, err := h.orders.GetOrderByPaymentRef(r.Context(), sessionID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newOrderResponse(detail, detail.Order.Owner == owner))
}

// Get handles GET /api/orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := requestOwner(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.orders.GetOrderForOwner(r.Context(), owner, id)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newOrderResponse(detail, true))
}

// Lookup handles POST /api/orders/lookup for guests who have the order
// number from their confirmation email.
func (h *OrderHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	const op = "api.order.lookup"

	var req guestLookupRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	detail, err := h.orders.LookupGuestOrder(r.Context(), req.Email, req.OrderNumber)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newOrderResponse(detail, true))
}
