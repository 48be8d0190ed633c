package middleware

import (
	"mime"
	"net/http"
	"strings"
)

// CSRFConfig configures the cross-site write guard.
type CSRFConfig struct {
	// SkipPaths are paths that should skip the guard.
	// Useful for webhooks that have their own authentication.
	SkipPaths []string

	// ErrorHandler is called when a write is rejected.
	// Default: 403 with a JSON error.
	ErrorHandler func(w http.ResponseWriter, r *http.Request)
}

// DefaultCSRFConfig skips the webhook tree.
func DefaultCSRFConfig() CSRFConfig {
	return CSRFConfig{
		SkipPaths: []string{"/webhooks/"},
	}
}

// CSRF rejects state-changing requests whose owner came from the ambient
// guest cookie unless they are JSON. A cross-site form cannot send
// application/json without a CORS preflight, so the cookie alone never
// authorizes a write. Bearer and X-Guest-Session requests are not ambient
// and pass through. Must run after WithOwner.
func CSRF(cfg CSRFConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// SECURITY: Use proper path boundary matching to prevent bypass
			// e.g., /webhooks/ should not match /webhooks-evil/
			for _, skipPath := range cfg.SkipPaths {
				if matchesPathPrefix(r.URL.Path, skipPath) {
					next.ServeHTTP(w, r)
					return
				}
			}

			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			switch GetOwnerSource(r.Context()) {
			case OwnerFromBearer, OwnerFromHeader:
				next.ServeHTTP(w, r)
				return
			}

			// Bodyless writes (DELETE, bare POST actions) carry nothing to
			// sniff, so they must opt in with the guest header.
			if isJSONContent(r) {
				next.ServeHTTP(w, r)
				return
			}

			GetLogger(r.Context()).Warn("cross-site write rejected",
				"content_type", r.Header.Get("Content-Type"),
				"origin", r.Header.Get("Origin"),
			)
			if cfg.ErrorHandler != nil {
				cfg.ErrorHandler(w, r)
				return
			}
			respondUnsupportedMedia(w, r)
		})
	}
}

func isJSONContent(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

// isSafeMethod returns true for HTTP methods that don't change state
func isSafeMethod(method string) bool {
	return method == http.MethodGet ||
		method == http.MethodHead ||
		method == http.MethodOptions ||
		method == http.MethodTrace
}

// matchesPathPrefix checks if requestPath matches the skipPath with proper boundary checking.
// This prevents bypass attacks where /webhooks/ would incorrectly match /webhooks-evil/.
func matchesPathPrefix(requestPath, skipPath string) bool {
	if !strings.HasPrefix(requestPath, skipPath) {
		return false
	}

	if strings.HasSuffix(skipPath, "/") {
		return true
	}

	if len(requestPath) == len(skipPath) {
		return true
	}

	return requestPath[len(skipPath)] == '/'
}
