// Package api serves the shopper-facing JSON API: cart, coupons, checkout,
// order status and availability. Every handler reads the owner resolved by
// middleware.WithOwner and passes it to the service explicitly.
package api

import (
	"net/http"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/handler"
	"github.com/dukerupert/kaupa/internal/middleware"
	"github.com/google/uuid"
)

// requestOwner returns the owner or writes a 500: routes are always mounted
// behind WithOwner, so a missing owner is a wiring bug.
func requestOwner(w http.ResponseWriter, r *http.Request) (domain.Owner, bool) {
	owner, ok := middleware.GetOwner(r.Context())
	if !ok {
		handler.InternalErrorResponse(w, r, domain.Errorf(domain.EINTERNAL, "api.owner", "owner middleware not installed"))
		return domain.Owner{}, false
	}
	return owner, true
}

// pathUUID parses the named path value, answering 404 for malformed ids so
// probing does not distinguish bad ids from missing ones.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil || id == uuid.Nil {
		handler.NotFoundResponse(w, r)
		return uuid.Nil, false
	}
	return id, true
}
