package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "service-account",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestStaticTokenSource(t *testing.T) {
	if _, err := NewStaticTokenSource("  "); err == nil {
		t.Fatal("expected error for blank token")
	}

	src, err := NewStaticTokenSource(" abc ")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	token, err := src.Token(context.Background())
	if err != nil || token != "abc" {
		t.Fatalf("token = %q err = %v", token, err)
	}
}

func TestRefreshingSourceServesValidToken(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	initial := signedToken(t, now.Add(time.Hour))

	refreshCalls := 0
	src, err := NewRefreshingTokenSource(initial, time.Minute, func(ctx context.Context) (string, error) {
		refreshCalls++
		return "", errors.New("should not refresh")
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	src.now = func() time.Time { return now }

	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != initial || refreshCalls != 0 {
		t.Fatalf("token refreshed prematurely, calls = %d", refreshCalls)
	}
}

func TestRefreshingSourceRefreshesAheadOfExpiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	initial := signedToken(t, now.Add(30*time.Second))
	fresh := signedToken(t, now.Add(time.Hour))

	src, err := NewRefreshingTokenSource(initial, time.Minute, func(ctx context.Context) (string, error) {
		return fresh, nil
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	src.now = func() time.Time { return now }

	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != fresh {
		t.Fatal("expected refreshed token inside the refresh-ahead window")
	}
}

func TestRefreshingSourceKeepsValidTokenWhenRefreshFails(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	initial := signedToken(t, now.Add(30*time.Second))

	src, err := NewRefreshingTokenSource(initial, time.Minute, func(ctx context.Context) (string, error) {
		return "", errors.New("idp down")
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	src.now = func() time.Time { return now }

	token, err := src.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != initial {
		t.Fatal("still-valid token should be served when refresh fails")
	}

	// once truly expired, the failure surfaces
	src.now = func() time.Time { return now.Add(time.Minute) }
	if _, err := src.Token(context.Background()); err == nil {
		t.Fatal("expected error after expiry with failing refresh")
	}
}

func TestHTTPRefreshExchangesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token":"fresh-token"}`)
	}))
	defer srv.Close()

	refresh, err := NewHTTPRefresh(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	token, err := refresh(context.Background())
	if err != nil || token != "fresh-token" {
		t.Fatalf("token = %q err = %v", token, err)
	}
}

func TestHTTPRefreshSurfacesUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "idp melted", http.StatusBadGateway)
	}))
	defer srv.Close()

	refresh, err := NewHTTPRefresh(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := refresh(context.Background()); err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("error = %v, want upstream status surfaced", err)
	}
}

func TestHTTPRefreshRequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPRefresh("  ", nil); err == nil {
		t.Fatal("expected error for blank endpoint")
	}
}

func TestRefreshingSourceWithoutExpiryServesAsIs(t *testing.T) {
	src, err := NewRefreshingTokenSource("opaque-token", time.Minute, func(ctx context.Context) (string, error) {
		return "", errors.New("should not be called")
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	token, err := src.Token(context.Background())
	if err != nil || token != "opaque-token" {
		t.Fatalf("token = %q err = %v", token, err)
	}
}
