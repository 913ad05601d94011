package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer credential attached to every remote
// commerce request. Token acquisition and refresh are owned by the auth
// collaborator; callers only consume tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same token forever. Used for service
// accounts and tests.
type StaticTokenSource struct {
	token string
}

func NewStaticTokenSource(token string) (*StaticTokenSource, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, fmt.Errorf("bearer token required")
	}
	return &StaticTokenSource{token: trimmed}, nil
}

func (s *StaticTokenSource) Token(context.Context) (string, error) {
	return s.token, nil
}

// RefreshFunc exchanges the expiring token for a fresh one.
type RefreshFunc func(ctx context.Context) (string, error)

// RefreshingTokenSource inspects the JWT expiry claim and invokes the
// refresh callback ahead of expiry. Tokens without a parseable expiry are
// served as-is.
type RefreshingTokenSource struct {
	mu           sync.Mutex
	current      string
	expiresAt    time.Time
	refreshAhead time.Duration
	refresh      RefreshFunc
	now          func() time.Time
}

func NewRefreshingTokenSource(initial string, refreshAhead time.Duration, refresh RefreshFunc) (*RefreshingTokenSource, error) {
	if refresh == nil {
		return nil, fmt.Errorf("refresh func required")
	}
	if refreshAhead <= 0 {
		refreshAhead = time.Minute
	}
	src := &RefreshingTokenSource{
		refreshAhead: refreshAhead,
		refresh:      refresh,
		now:          time.Now,
	}
	if trimmed := strings.TrimSpace(initial); trimmed != "" {
		src.current = trimmed
		src.expiresAt = tokenExpiry(trimmed)
	}
	return src, nil
}

func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != "" && !s.needsRefresh() {
		return s.current, nil
	}

	fresh, err := s.refresh(ctx)
	if err != nil {
		// A still-valid token beats failing the caller's request.
		if s.current != "" && (s.expiresAt.IsZero() || s.now().Before(s.expiresAt)) {
			return s.current, nil
		}
		return "", fmt.Errorf("refresh bearer token: %w", err)
	}

	s.current = strings.TrimSpace(fresh)
	s.expiresAt = tokenExpiry(s.current)
	if s.current == "" {
		return "", fmt.Errorf("refresh returned empty token")
	}
	return s.current, nil
}

func (s *RefreshingTokenSource) needsRefresh() bool {
	if s.expiresAt.IsZero() {
		return false
	}
	return !s.now().Before(s.expiresAt.Add(-s.refreshAhead))
}

// tokenExpiry reads the exp claim without verifying the signature; the
// remote service is the verifier, this side only schedules refreshes.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
