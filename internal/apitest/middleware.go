package apitest

import (
	"context"
	"net/http"
	"strings"

	"github.com/example/optical-storefront/internal/logger"
)

type claimsKey struct{}

// AuthMiddleware admits requests carrying "Authorization: Bearer <access
// token>". Rejections are plain text 401s, like the real API.
func AuthMiddleware(jwtService *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, "no token provided", http.StatusUnauthorized)
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || scheme != "Bearer" || token == "" {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			claims, err := jwtService.ValidateAccessToken(token)
			if err != nil {
				logger.Debug("[MockAPI] rejected access token", "path", r.URL.Path, "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// RequireRole must run after AuthMiddleware
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := claimsFrom(r.Context())
			switch {
			case !ok:
				http.Error(w, "invalid token", http.StatusUnauthorized)
			case claims.Role != role:
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func withClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

func claimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}

// GetUserID returns the authenticated user id, or 0
func GetUserID(ctx context.Context) int64 {
	if claims, ok := claimsFrom(ctx); ok {
		return claims.UserID
	}
	return 0
}
