package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/kaupa/internal/cookie"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCSRF(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := WithOwner(testSecret, cookie.NewConfig("", false))(CSRF(DefaultCSRFConfig())(ok))

	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		guestHeader bool
		bearer      bool
		want        int
	}{
		{"safe method", http.MethodGet, "/api/cart", "", false, false, http.StatusNoContent},
		{"cookie json write", http.MethodPost, "/api/cart/items", "application/json; charset=utf-8", false, false, http.StatusNoContent},
		{"cookie form write", http.MethodPost, "/api/cart/items", "application/x-www-form-urlencoded", false, false, http.StatusForbidden},
		{"cookie bodyless delete", http.MethodDelete, "/api/cart/items/x", "", false, false, http.StatusForbidden},
		{"guest header delete", http.MethodDelete, "/api/cart/items/x", "", true, false, http.StatusNoContent},
		{"bearer form write", http.MethodPost, "/api/checkout/x/pay", "text/plain", false, true, http.StatusNoContent},
		{"webhook skipped", http.MethodPost, "/webhooks/stripe", "application/octet-stream", false, false, http.StatusNoContent},
		{"lookalike path not skipped", http.MethodPost, "/webhooks-evil", "text/plain", false, false, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			req.AddCookie(&http.Cookie{Name: cookie.GuestCookieName, Value: "guest-1"})
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.guestHeader {
				req.Header.Set(GuestSessionHeader, "guest-1")
			}
			if tt.bearer {
				req.Header.Set("Authorization", "Bearer "+mustToken(t, testSecret, uuid.New(), "", time.Hour))
			}

			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestMatchesPathPrefix(t *testing.T) {
	assert.True(t, matchesPathPrefix("/webhooks/stripe", "/webhooks/"))
	assert.True(t, matchesPathPrefix("/webhooks", "/webhooks"))
	assert.True(t, matchesPathPrefix("/webhooks/stripe", "/webhooks"))
	assert.False(t, matchesPathPrefix("/webhooks-evil", "/webhooks"))
	assert.False(t, matchesPathPrefix("/api", "/webhooks/"))
}
