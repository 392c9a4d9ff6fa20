package apitest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWTService() *JWTService {
	return NewJWTService(
		"test-secret-key-for-testing-purposes",
		15*time.Minute,
		7*24*time.Hour,
	)
}

// withClock pins the service clock so expiry can be tested without sleeping
func withClock(s *JWTService, now time.Time) *JWTService {
	s.now = func() time.Time { return now }
	return s
}

func TestNewJWTService(t *testing.T) {
	service := newTestJWTService()
	assert.NotNil(t, service)
	assert.Equal(t, 15*time.Minute, service.GetAccessTokenExpiry())
	assert.Equal(t, 7*24*time.Hour, service.GetRefreshTokenExpiry())
}

func TestJWTService_GenerateAccessToken_Success(t *testing.T) {
	service := newTestJWTService()

	token, expiresAt, err := service.GenerateAccessToken(42, "test@example.com", "customer")

	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))
	assert.True(t, expiresAt.Before(time.Now().Add(16*time.Minute)))
}

func TestJWTService_ValidateAccessToken_Valid(t *testing.T) {
	service := newTestJWTService()

	token, _, err := service.GenerateAccessToken(456, "test@example.com", "admin")
	require.NoError(t, err)

	claims, err := service.ValidateAccessToken(token)

	require.NoError(t, err)
	assert.Equal(t, int64(456), claims.UserID)
	assert.Equal(t, "test@example.com", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "456", claims.Subject)
}

func TestJWTService_AccessTokenCarriesNumericUserID(t *testing.T) {
	service := newTestJWTService()

	token, _, err := service.GenerateAccessToken(7, "", "")
	require.NoError(t, err)

	mapClaims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, mapClaims)
	require.NoError(t, err)

	userID, ok := mapClaims["user_id"].(float64)
	require.True(t, ok, "user_id should be a JSON number")
	assert.Equal(t, float64(7), userID)
}

func TestJWTService_ValidateAccessToken_Expired(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	service := withClock(newTestJWTService(), issued)

	token, _, err := service.GenerateAccessToken(1, "test@example.com", "customer")
	require.NoError(t, err)

	withClock(service, issued.Add(16*time.Minute))
	claims, err := service.ValidateAccessToken(token)

	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.Nil(t, claims)
}

func TestJWTService_ValidateAccessToken_Invalid(t *testing.T) {
	service := newTestJWTService()

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"random string", "not-a-valid-token"},
		{"malformed JWT", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := service.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestJWTService_ValidateAccessToken_WrongSignature(t *testing.T) {
	service1 := NewJWTService("secret-key-1", 15*time.Minute, 7*24*time.Hour)
	service2 := NewJWTService("secret-key-2", 15*time.Minute, 7*24*time.Hour)

	token, _, err := service1.GenerateAccessToken(1, "test@example.com", "customer")
	require.NoError(t, err)

	claims, err := service2.ValidateAccessToken(token)

	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, claims)
}

func TestJWTService_ValidateAccessToken_WrongAlgorithm(t *testing.T) {
	service := newTestJWTService()

	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: 1,
		Email:  "test@example.com",
		Role:   "customer",
	})
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	claims, err := service.ValidateAccessToken(tokenString)

	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, claims)
}

func TestJWTService_ValidateAccessToken_MissingUserID(t *testing.T) {
	service := newTestJWTService()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	tokenString, err := token.SignedString(service.secretKey)
	require.NoError(t, err)

	_, err = service.ValidateAccessToken(tokenString)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_ValidateRefreshToken_Valid(t *testing.T) {
	service := newTestJWTService()

	token, expiresAt, err := service.GenerateRefreshToken(789)
	require.NoError(t, err)
	assert.True(t, expiresAt.Before(time.Now().Add(8*24*time.Hour)))

	userID, err := service.ValidateRefreshToken(token)

	require.NoError(t, err)
	assert.Equal(t, int64(789), userID)
}

func TestJWTService_ValidateRefreshToken_Expired(t *testing.T) {
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	service := withClock(newTestJWTService(), issued)

	token, _, err := service.GenerateRefreshToken(1)
	require.NoError(t, err)

	withClock(service, issued.Add(8*24*time.Hour))
	userID, err := service.ValidateRefreshToken(token)

	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.Zero(t, userID)
}

func TestJWTService_ValidateRefreshToken_WrongSignature(t *testing.T) {
	service1 := NewJWTService("secret-key-1", 15*time.Minute, 7*24*time.Hour)
	service2 := NewJWTService("secret-key-2", 15*time.Minute, 7*24*time.Hour)

	token, _, err := service1.GenerateRefreshToken(1)
	require.NoError(t, err)

	userID, err := service2.ValidateRefreshToken(token)

	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Zero(t, userID)
}

func TestJWTService_TokensAreUnique(t *testing.T) {
	service := newTestJWTService()

	first, _, err := service.GenerateRefreshToken(1)
	require.NoError(t, err)
	second, _, err := service.GenerateRefreshToken(1)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}
