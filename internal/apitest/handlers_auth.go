package apitest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var ErrEmailTaken = errors.New("email already registered")

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// CreateUser registers a user directly and returns its id
func (s *Server) CreateUser(email, password, role string) (int64, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return 0, err
	}
	if role == "" {
		role = "customer"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if _, exists := s.users[key]; exists {
		return 0, ErrEmailTaken
	}
	s.nextUserID++
	s.users[key] = &user{id: s.nextUserID, email: email, passwordHash: hash, role: role}
	return s.nextUserID, nil
}

// IssueTokens mints a token pair for an existing user id and registers the
// refresh token
func (s *Server) IssueTokens(userID int64) (access, refresh string, err error) {
	s.mu.Lock()
	var email, role string
	for _, u := range s.users {
		if u.id == userID {
			email, role = u.email, u.role
			break
		}
	}
	s.mu.Unlock()

	access, _, err = s.jwt.GenerateAccessToken(userID, email, role)
	if err != nil {
		return "", "", err
	}
	refresh, _, err = s.jwt.GenerateRefreshToken(userID)
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	s.refreshTokens[refresh] = userID
	s.mu.Unlock()
	return access, refresh, nil
}

// RevokeRefreshTokens invalidates every refresh token of a user
func (s *Server) RevokeRefreshTokens(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, id := range s.refreshTokens {
		if id == userID {
			delete(s.refreshTokens, tok)
		}
	}
}

func (s *Server) writeTokens(w http.ResponseWriter, userID int64) {
	access, refresh, err := s.IssueTokens(userID)
	if err != nil {
		http.Error(w, "Failed to generate tokens", http.StatusInternalServerError)
		return
	}
	respondJSON(w, tokenResponse{Token: access, RefreshToken: refresh}, http.StatusOK)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	id, err := s.CreateUser(req.Email, req.Password, req.Role)
	if errors.Is(err, ErrEmailTaken) {
		http.Error(w, "Email already registered", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	s.writeTokens(w, id)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(req.Email)]
	s.mu.Unlock()

	if !ok || !s.hasher.Check(req.Password, u.passwordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	s.writeTokens(w, u.id)
}

// handleRefreshToken rotates the refresh token: the presented one is
// consumed and a new pair is issued
func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	userID, err := s.jwt.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	s.mu.Lock()
	storedID, ok := s.refreshTokens[req.RefreshToken]
	if ok && storedID == userID {
		delete(s.refreshTokens, req.RefreshToken)
	}
	s.mu.Unlock()

	if !ok || storedID != userID {
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}
	s.writeTokens(w, userID)
}
