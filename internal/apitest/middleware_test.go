package apitest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	jwtService := newTestJWTService()
	middleware := AuthMiddleware(jwtService)

	token, _, err := jwtService.GenerateAccessToken(123, "test@example.com", "customer")
	require.NoError(t, err)

	var capturedClaims *Claims
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedClaims, _ = claimsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, capturedClaims)
	assert.Equal(t, int64(123), capturedClaims.UserID)
	assert.Equal(t, "customer", capturedClaims.Role)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	jwtService := newTestJWTService()

	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	expiredService := withClock(newTestJWTService(), issued)
	expired, _, err := expiredService.GenerateAccessToken(1, "", "customer")
	require.NoError(t, err)

	other := NewJWTService("another-secret", 15*time.Minute, time.Hour)
	foreign, _, err := other.GenerateAccessToken(1, "", "customer")
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"no header", "", "no token provided"},
		{"not bearer", "Basic dXNlcjpwYXNz", "invalid token"},
		{"bearer without token", "Bearer ", "invalid token"},
		{"garbage token", "Bearer invalid-token", "invalid token"},
		{"expired token", "Bearer " + expired, "invalid token"},
		{"wrong signature", "Bearer " + foreign, "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			AuthMiddleware(jwtService)(okHandler()).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.message+"\n", rec.Body.String())
			assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		claims   *Claims
		expected int
	}{
		{"admin", &Claims{UserID: 1, Role: "admin"}, http.StatusOK},
		{"customer", &Claims{UserID: 1, Role: "customer"}, http.StatusForbidden},
		{"no claims", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.claims != nil {
				req = req.WithContext(withClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()

			RequireRole("admin")(okHandler()).ServeHTTP(rec, req)

			assert.Equal(t, tt.expected, rec.Code)
		})
	}
}

func TestGetUserID(t *testing.T) {
	ctx := withClaims(context.Background(), &Claims{UserID: 99})
	assert.Equal(t, int64(99), GetUserID(ctx))
	assert.Zero(t, GetUserID(context.Background()))
}
