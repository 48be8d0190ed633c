package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/kaupa/internal/cookie"
	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	// GuestSessionHeader lets API clients carry the guest id without cookies.
	GuestSessionHeader = "X-Guest-Session"

	// GuestIDContextKey stores the guest id presented with the request, if any.
	// It is set even when a bearer token wins so merge can find the guest cart.
	GuestIDContextKey contextKey = "guest_id"

	// OwnerSourceContextKey records where the owner came from.
	OwnerSourceContextKey contextKey = "owner_source"
)

// OwnerSource says how the request's owner was resolved.
type OwnerSource string

const (
	OwnerFromBearer OwnerSource = "bearer"
	OwnerFromHeader OwnerSource = "header"
	OwnerFromCookie OwnerSource = "cookie"
	OwnerFromNew    OwnerSource = "new"
)

// Claims are the bearer token claims. Subject carries the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// WithOwner resolves the cart owner once per request.
//
// A valid HS256 bearer token makes the owner the token's user. Otherwise the
// guest id comes from the X-Guest-Session header or the guest cookie, and a
// fresh one is generated and set as a cookie when neither is present. A bearer
// token that is present but invalid is rejected with 401 rather than silently
// downgraded to a guest.
func WithOwner(jwtSecret []byte, cookies *cookie.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			guestID, source := presentedGuestID(r)
			if guestID != "" {
				if err := domain.ValidateGuestID(guestID); err != nil {
					respondWithError(w, r, err)
					return
				}
				ctx = context.WithValue(ctx, GuestIDContextKey, guestID)
			}

			var owner domain.Owner
			if tokenStr, ok := bearerToken(r); ok {
				principal, err := ParseToken(jwtSecret, tokenStr)
				if err != nil {
					GetLogger(ctx).Info("rejected bearer token", "error", err)
					respondUnauthorized(w, r)
					return
				}
				ctx = domain.NewContextWithPrincipal(ctx, principal)
				owner = domain.UserOwner(principal.UserID)
				source = OwnerFromBearer
			} else {
				if guestID == "" {
					guestID = domain.NewGuestID()
					source = OwnerFromNew
					ctx = context.WithValue(ctx, GuestIDContextKey, guestID)
				}
				owner = domain.GuestOwner(guestID)
				if source != OwnerFromHeader {
					// Refresh the cookie so an active guest keeps the full window.
					cookies.SetSession(w, cookie.GuestCookieName, guestID, cookie.GuestMaxAge)
				}
			}

			ctx = domain.NewContextWithOwner(ctx, owner)
			ctx = context.WithValue(ctx, OwnerSourceContextKey, source)
			ctx = context.WithValue(ctx, LoggerContextKey, GetLogger(ctx).With(slog.String("owner", owner.Key())))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func presentedGuestID(r *http.Request) (string, OwnerSource) {
	if id := strings.TrimSpace(r.Header.Get(GuestSessionHeader)); id != "" {
		return id, OwnerFromHeader
	}
	if id := cookie.Get(r, cookie.GuestCookieName); id != "" {
		return id, OwnerFromCookie
	}
	return "", ""
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// ParseToken verifies an HS256 token and returns its principal.
func ParseToken(secret []byte, tokenStr string) (*domain.Principal, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("bearer auth is not configured")
	}
	if tokenStr == "" {
		return nil, fmt.Errorf("malformed authorization header")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return nil, fmt.Errorf("invalid subject %q", claims.Subject)
	}

	role := claims.Role
	if role == "" {
		role = domain.RoleCustomer
	}
	return &domain.Principal{UserID: userID, Role: role}, nil
}

// NewToken signs an HS256 token for the user. It backs the dev token command
// and tests; production tokens are minted by the identity service.
func NewToken(secret []byte, userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// RequireUser rejects requests without a bearer identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !domain.IsAuthenticated(r.Context()) {
			respondUnauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin ensures the principal carries the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := domain.PrincipalFromContext(r.Context())
		if p == nil {
			respondUnauthorized(w, r)
			return
		}
		if !p.IsAdmin() {
			respondForbidden(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetOwner returns the owner resolved by WithOwner.
func GetOwner(ctx context.Context) (domain.Owner, bool) {
	return domain.OwnerFromContext(ctx)
}

// GetGuestID returns the guest id presented or issued for this request.
func GetGuestID(ctx context.Context) string {
	id, _ := ctx.Value(GuestIDContextKey).(string)
	return id
}

// GetOwnerSource reports how the owner was resolved.
func GetOwnerSource(ctx context.Context) OwnerSource {
	s, _ := ctx.Value(OwnerSourceContextKey).(OwnerSource)
	return s
}
