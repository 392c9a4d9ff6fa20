package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/optical-storefront/internal/logger"
)

// TokenRefresher exchanges a refresh token for a new token pair
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*Tokens, error)
}

// statusCoder is implemented by API errors that carry an HTTP status
type statusCoder interface {
	StatusCode() int
}

// Refresher renews the session's tokens shortly before they expire
type Refresher struct {
	session    *Session
	client     TokenRefresher
	lead       time.Duration
	retryDelay time.Duration
}

func NewRefresher(session *Session, client TokenRefresher, lead time.Duration) *Refresher {
	return &Refresher{
		session:    session,
		client:     client,
		lead:       lead,
		retryDelay: 30 * time.Second,
	}
}

// Run schedules refreshes until ctx is done. Sessions without an expiry
// are left alone.
func (r *Refresher) Run(ctx context.Context) error {
	changed := make(chan struct{}, 1)
	unsubscribe := r.session.Subscribe(func(Status) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		var fire <-chan time.Time
		var timer *time.Timer
		if wait, ok := r.nextRefresh(); ok {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case <-changed:
			stopTimer(timer)
		case <-fire:
			if err := r.RefreshNow(ctx); err != nil && !errors.Is(err, ErrUnauthenticated) {
				logger.Warn("[Refresher] refresh failed", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-changed:
				case <-time.After(r.retryDelay):
				}
			}
		}
	}
}

func (r *Refresher) nextRefresh() (time.Duration, bool) {
	status := r.session.Status()
	if !status.IsAuthenticated || status.Tokens.ExpiresAt == nil || status.Tokens.RefreshToken == "" {
		return 0, false
	}
	wait := time.Until(status.Tokens.ExpiresAt.Add(-r.lead))
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// RefreshNow performs one refresh. A 401 from the server ends the session.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	status := r.session.Status()
	if !status.IsAuthenticated || status.Tokens.RefreshToken == "" {
		return ErrUnauthenticated
	}
	epoch := r.session.Epoch()

	tokens, err := r.client.RefreshToken(ctx, status.Tokens.RefreshToken)
	if r.session.Epoch() != epoch {
		logger.Debug("[Refresher] session changed during refresh, dropping result")
		return nil
	}
	if err != nil {
		var sc statusCoder
		if errors.As(err, &sc) && sc.StatusCode() == http.StatusUnauthorized {
			logger.Info("[Refresher] refresh token rejected, logging out")
			_ = r.session.Dispatch(ctx, Logout())
			return fmt.Errorf("refresh token rejected: %w", err)
		}
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	next := *tokens
	if next.RefreshToken == "" {
		next.RefreshToken = status.Tokens.RefreshToken
	}
	return r.session.Dispatch(ctx, RefreshTokenSuccess(next))
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
