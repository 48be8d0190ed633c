package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/kaupa/internal/cookie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 3})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a"), "request %d within burst", i)
	}
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys have independent buckets")
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 1, CleanupInterval: time.Hour})
	defer rl.Stop()

	rl.Allow("idle")
	rl.evictIdle(time.Now().Add(time.Second))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.visitors)
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	defer rl.Stop()

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := WithOwner(testSecret, cookie.NewConfig("", false))(rl.Middleware(ok))

	send := func(guest string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
		req.Header.Set(GuestSessionHeader, guest)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, send("g1").Code)
	w := send("g1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"rate_limit"`)

	assert.Equal(t, http.StatusOK, send("g2").Code, "another guest has its own quota")
}

func TestOwnerOrIPKey_NewGuestUsesIP(t *testing.T) {
	var key string
	h := WithOwner(testSecret, cookie.NewConfig("", false))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = OwnerOrIPKey(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.RemoteAddr = "203.0.113.9:4711"
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "ip:203.0.113.9", key, "a freshly minted guest id must not reset the quota")
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, "10.0.0.2:80", "198.51.100.1"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.2:80", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.4:5000", "192.0.2.4"},
		{"remote without port", nil, "192.0.2.4", "192.0.2.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}
