package api

import (
	"net/http"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/handler"
	"github.com/google/uuid"
)

// VariantHandler exposes stock availability for product pages.
type VariantHandler struct {
	ledger domain.StockLedger
}

// NewVariantHandler creates a new variant handler
func NewVariantHandler(ledger domain.StockLedger) *VariantHandler {
	return &VariantHandler{ledger: ledger}
}

type availabilityResponse struct {
	VariantID uuid.UUID `json:"variant_id"`
	Available int32     `json:"available"`
	InStock   bool      `json:"in_stock"`
}

// Availability handles GET /api/variants/{id}/availability
func (h *VariantHandler) Availability(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	available, err := h.ledger.AvailableToSell(r.Context(), id)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	handler.WriteJSON(w, http.StatusOK, availabilityResponse{
		VariantID: id,
		Available: available,
		InStock:   available > 0,
	})
}
