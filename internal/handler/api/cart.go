package api

import (
	"net/http"

	"github.com/dukerupert/kaupa/internal/cookie"
	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/handler"
	"github.com/dukerupert/kaupa/internal/middleware"
	"github.com/google/uuid"
)

// CartHandler serves the /api/cart routes.
type CartHandler struct {
	carts   domain.CartService
	cookies *cookie.Config
}

// NewCartHandler creates a new cart handler
func NewCartHandler(carts domain.CartService, cookies *cookie.Config) *CartHandler {
	return &CartHandler{carts: carts, cookies: cookies}
}

type addItemRequest struct {
	VariantID string            `json:"variant_id" validate:"required"`
	Quantity  int32             `json:"quantity" validate:"required,min=1,max=999"`
	Options   map[string]string `json:"options" validate:"max=8,dive,keys,min=1,max=40,endkeys,max=80"`
}

type updateItemRequest struct {
	Quantity *int32 `json:"quantity" validate:"required,min=0,max=999"`
}

// Get handles GET /api/cart
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := requestOwner(w, r)
	if !ok {
		return
	}

	summary, err := h.carts.Summary(r.Context(), owner)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newCartResponse(summary))
}

// AddItem handles POST /api/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	const op = "api.cart.add_item"
	owner, ok := requestOwner(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	variantID, err := uuid.Parse(req.VariantID)
	if err != nil {
		handler.ErrorResponse(w, r, domain.NewValidationError(op, "variant_id", "must be a valid id"))
		return
	}

	summary, err := h.carts.AddItem(r.Context(), owner, variantID, req.Quantity, domain.Options(req.Options))
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newCartResponse(summary))
}

// UpdateItem handles PATCH /api/cart/items/{id}
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	const op = "api.cart.update_item"
	owner, ok := requestOwner(w, r)
	if !ok {
		return
	}
	itemID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateItemRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	summary, err := h.carts.UpdateQuantity(r.Context(), owner, itemID, *req.Quantity)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newCartResponse(summary))
}

// RemoveItem handles DELETE /api/cart/items/{id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := requestOwner(w, r)
	if !ok {
		return
	}
	itemID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	summary, err := h.carts.RemoveItem(r.Context(), owner, itemID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, newCartResponse(summary))
}

// Merge handles POST /api/cart/merge. The caller must present a bearer token
// and the guest id they shopped under; the guest cookie is cleared afterwards.
func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	const op = "api.cart.merge"
	principal := domain.PrincipalFromContext(r.Context())
	if principal == nil {
		handler.UnauthorizedResponse(w, r)
		return
	}

	guestID := middleware.GetGuestID(r.Context())
	if guestID == "" {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, op, "No guest session to merge"))
		return
	}

	result, err := h.carts.MergeGuestIntoUser(r.Context(), guestID, principal.UserID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	if len(result.Dropped) > 0 {
		middleware.GetLogger(r.Context()).Info("merge dropped lines",
			"guest_id", guestID,
			"dropped", len(result.Dropped),
		)
	}
	h.cookies.ClearSession(w, cookie.GuestCookieName)
	handler.WriteJSON(w, http.StatusOK, newMergeResponse(result))
}
