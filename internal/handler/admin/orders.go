// Package admin serves operator-only endpoints. Routes are mounted behind
// middleware.RequireAdmin.
package admin

import (
	"net/http"
	"time"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/handler"
	"github.com/dukerupert/kaupa/internal/middleware"
	"github.com/google/uuid"
)

// OrderStatusHandler applies administrative order status changes
type OrderStatusHandler struct {
	orders domain.OrderService
}

// NewOrderStatusHandler creates a new order status handler
func NewOrderStatusHandler(orders domain.OrderService) *OrderStatusHandler {
	return &OrderStatusHandler{orders: orders}
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=paid shipped delivered return_requested return_approved refunded cancelled"`
	Note   string `json:"note" validate:"max=500"`
}

type statusEvent struct {
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type statusResponse struct {
	ID        uuid.UUID     `json:"id"`
	Number    string        `json:"number"`
	Status    string        `json:"status"`
	History   []statusEvent `json:"history"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ServeHTTP handles POST /admin/orders/{id}/status
func (h *OrderStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "admin.order.status"

	orderID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handler.NotFoundResponse(w, r)
		return
	}

	var req statusRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	detail, err := h.orders.TransitionStatus(r.Context(), orderID, domain.OrderStatus(req.Status), req.Note)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	var adminID uuid.UUID
	if p := domain.PrincipalFromContext(r.Context()); p != nil {
		adminID = p.UserID
	}
	middleware.GetLogger(r.Context()).Info("order status changed by admin",
		"order_id", orderID,
		"status", detail.Order.Status,
		"admin_id", adminID,
	)

	resp := statusResponse{
		ID:        detail.Order.ID,
		Number:    detail.Order.Number,
		Status:    string(detail.Order.Status),
		History:   []statusEvent{},
		UpdatedAt: detail.Order.UpdatedAt,
	}
	for _, e := range detail.Events {
		resp.History = append(resp.History, statusEvent{
			From:      string(e.FromStatus),
			To:        string(e.ToStatus),
			Note:      e.Note,
			CreatedAt: e.CreatedAt,
		})
	}
	handler.WriteJSON(w, http.StatusOK, resp)
}
