package api

import (
	"context"
	"net/http"

	"github.com/example/optical-storefront/internal/auth"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// tokenResponse accepts both spellings of the refresh token field
type tokenResponse struct {
	Token             string `json:"token" validate:"required"`
	RefreshToken      string `json:"refresh_token"`
	RefreshTokenCamel string `json:"refreshToken"`
}

func (r tokenResponse) tokens() *auth.Tokens {
	refresh := r.RefreshToken
	if refresh == "" {
		refresh = r.RefreshTokenCamel
	}
	t := &auth.Tokens{AccessToken: r.Token, RefreshToken: refresh}
	if exp, ok := auth.ExpiryFromJWT(r.Token); ok {
		t.ExpiresAt = &exp
	}
	return t
}

// Login exchanges credentials for a token pair. The caller dispatches
// LOGIN_SUCCESS with the result.
func (c *Client) Login(ctx context.Context, email, password string) (*auth.Tokens, error) {
	var resp tokenResponse
	_, err := c.do(ctx, request{
		op:       "login",
		method:   http.MethodPost,
		path:     "/api/login",
		body:     credentials{Email: email, Password: password},
		fallback: "failed to login",
		required: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.tokens(), nil
}

// Register creates an account. Servers that log the new user in right away
// return tokens, others return nil tokens.
func (c *Client) Register(ctx context.Context, email, password, role string) (*auth.Tokens, error) {
	var resp tokenResponse
	ok, err := c.do(ctx, request{
		op:       "register",
		method:   http.MethodPost,
		path:     "/api/register",
		body:     credentials{Email: email, Password: password, Role: role},
		fallback: "Erro ao registrar",
	}, &resp)
	if err != nil || !ok {
		return nil, err
	}
	return resp.tokens(), nil
}

// RefreshToken trades a refresh token for a new pair
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*auth.Tokens, error) {
	var resp tokenResponse
	_, err := c.do(ctx, request{
		op:       "refresh token",
		method:   http.MethodPost,
		path:     "/api/refresh-token",
		body:     map[string]string{"refresh_token": refreshToken},
		fallback: "failed to refresh token",
		required: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.tokens(), nil
}
