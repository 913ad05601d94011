package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/distrohq/salesdesk/pkg/division"
)

type stubScopeStore struct {
	saved  map[string]division.Scope
	stored map[string]division.Scope
	err    error
}

func (s *stubScopeStore) Save(ctx context.Context, userID string, scope division.Scope) error {
	if s.err != nil {
		return s.err
	}
	s.saved[userID] = scope
	return nil
}

func (s *stubScopeStore) Load(ctx context.Context, userID string) (division.Scope, error) {
	if s.err != nil {
		return division.Scope{}, s.err
	}
	return s.stored[userID], nil
}

func runDivisionMiddleware(t *testing.T, store ScopeStore, fallback division.Scope, headers map[string]string) division.Scope {
	t.Helper()
	var got division.Scope
	handler := DivisionContext(store, fallback, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ScopeFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestDivisionHeaderWinsAndIsPersisted(t *testing.T) {
	store := &stubScopeStore{saved: map[string]division.Scope{}, stored: map[string]division.Scope{}}

	got := runDivisionMiddleware(t, store, division.Scope{DivisionID: "default"}, map[string]string{
		"X-User-Id":     "user-1",
		"X-Division-Id": "div-5",
	})
	if got.DivisionID != "div-5" {
		t.Fatalf("scope = %+v", got)
	}
	if store.saved["user-1"].DivisionID != "div-5" {
		t.Fatalf("selection not persisted: %+v", store.saved)
	}
}

func TestShowAllHeaderWinsOverDivisionHeader(t *testing.T) {
	store := &stubScopeStore{saved: map[string]division.Scope{}, stored: map[string]division.Scope{}}

	got := runDivisionMiddleware(t, store, division.Scope{}, map[string]string{
		"X-User-Id":            "user-1",
		"X-Division-Id":        "div-5",
		"X-Show-All-Divisions": "true",
	})
	if !got.ShowAll || got.DivisionID != "" {
		t.Fatalf("scope = %+v, want show-all", got)
	}
}

func TestStoredScopeUsedWhenNoHeader(t *testing.T) {
	store := &stubScopeStore{
		saved:  map[string]division.Scope{},
		stored: map[string]division.Scope{"user-1": {DivisionID: "div-stored"}},
	}

	got := runDivisionMiddleware(t, store, division.Scope{DivisionID: "default"}, map[string]string{
		"X-User-Id": "user-1",
	})
	if got.DivisionID != "div-stored" {
		t.Fatalf("scope = %+v, want stored selection", got)
	}
}

func TestFallbackWhenNothingSelected(t *testing.T) {
	store := &stubScopeStore{saved: map[string]division.Scope{}, stored: map[string]division.Scope{}}

	got := runDivisionMiddleware(t, store, division.Scope{DivisionID: "default"}, map[string]string{
		"X-User-Id": "user-1",
	})
	if got.DivisionID != "default" {
		t.Fatalf("scope = %+v, want fallback", got)
	}
}

func TestStoreFailureDegradesToFallback(t *testing.T) {
	store := &stubScopeStore{err: errors.New("redis down")}

	got := runDivisionMiddleware(t, store, division.Scope{DivisionID: "default"}, map[string]string{
		"X-User-Id": "user-1",
	})
	if got.DivisionID != "default" {
		t.Fatalf("scope = %+v, want fallback on store failure", got)
	}
}

func TestUserIDFrom(t *testing.T) {
	var got string
	handler := DivisionContext(nil, division.Scope{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserIDFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Id", "user-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "user-7" {
		t.Fatalf("user id = %q", got)
	}
}
