package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/kaupa/internal/cookie"
	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("api-test-secret")

const testGuestID = "guest-4f1c"

// testRequest describes one call through a mux that has the owner middleware
// installed, the way routes mounts the API.
type testRequest struct {
	method  string
	pattern string
	path    string
	body    string
	guestID string
	userID  uuid.UUID
}

func serve(t *testing.T, h http.HandlerFunc, tr testRequest) *httptest.ResponseRecorder {
	t.Helper()

	mux := http.NewServeMux()
	mux.Handle(tr.pattern, h)
	chain := middleware.WithOwner(testSecret, cookie.NewConfig("", false))(mux)

	var body io.Reader
	if tr.body != "" {
		body = strings.NewReader(tr.body)
	}
	req := httptest.NewRequest(tr.method, tr.path, body)
	req.Header.Set("Content-Type", "application/json")
	if tr.guestID != "" {
		req.Header.Set(middleware.GuestSessionHeader, tr.guestID)
	}
	if tr.userID != uuid.Nil {
		token, err := middleware.NewToken(testSecret, tr.userID, domain.RoleCustomer, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, req)
	return rec
}

type errorEnvelope struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestPathUUID_MalformedIDIsNotFound(t *testing.T) {
	h := NewVariantHandler(&mockStockLedger{
		AvailableToSellFunc: func(ctx context.Context, variantID uuid.UUID) (int32, error) {
			t.Fatal("ledger must not be called for a malformed id")
			return 0, nil
		},
	})

	rec := serve(t, h.Availability, testRequest{
		method:  http.MethodGet,
		pattern: "GET /api/variants/{id}/availability",
		path:    "/api/variants/not-a-uuid/availability",
		guestID: testGuestID,
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.ENOTFOUND, decodeError(t, rec).Error.Code)
}

func TestRequestOwner_MissingMiddleware(t *testing.T) {
	h := NewCartHandler(&mockCartService{}, cookie.NewConfig("", false))

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "An internal error occurred. Please try again later.", decodeError(t, rec).Error.Message)
}
