package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_SetSession(t *testing.T) {
	tests := []struct {
		name       string
		cfg        *Config
		wantDomain string
	}{
		{"scoped to base domain", NewConfig("kaupa.shop", true), "kaupa.shop"},
		{"host only in development", NewConfig("", false), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.cfg.SetSession(w, GuestCookieName, "guest-123", GuestMaxAge)

			cookies := w.Result().Cookies()
			require.Len(t, cookies, 1)
			c := cookies[0]
			assert.Equal(t, GuestCookieName, c.Name)
			assert.Equal(t, "guest-123", c.Value)
			assert.Equal(t, tt.wantDomain, c.Domain)
			assert.Equal(t, "/", c.Path)
			assert.Equal(t, GuestMaxAge, c.MaxAge)
			assert.True(t, c.HttpOnly)
			assert.Equal(t, tt.cfg.Secure, c.Secure)
			assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		})
	}
}

func TestConfig_ClearSession(t *testing.T) {
	w := httptest.NewRecorder()
	NewConfig("kaupa.shop", true).ClearSession(w, GuestCookieName)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestGet(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, Get(r, GuestCookieName))

	r.AddCookie(&http.Cookie{Name: GuestCookieName, Value: "abc"})
	assert.Equal(t, "abc", Get(r, GuestCookieName))
}
