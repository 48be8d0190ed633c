package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated when missing", "", false},
		{"preserves upstream id", "lb-7f3a9c", true},
		{"replaces oversized id", strings.Repeat("a", 200), false},
		{"replaces id with spaces", "a b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fromCtx, fromDomain string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fromCtx = GetRequestID(r.Context())
				fromDomain = domain.RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.NotEmpty(t, fromCtx)
			assert.Equal(t, fromCtx, fromDomain)
			assert.Equal(t, fromCtx, w.Header().Get(RequestIDHeader))
			if tt.keep {
				assert.Equal(t, tt.incoming, fromCtx)
			} else {
				assert.NotEqual(t, tt.incoming, fromCtx)
			}
		})
	}
}
