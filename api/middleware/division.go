package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/distrohq/salesdesk/pkg/division"
	"github.com/distrohq/salesdesk/pkg/logger"
)

const (
	divisionIDHeader = "X-Division-Id"
	showAllHeader    = "X-Show-All-Divisions"
	userIDHeader     = "X-User-Id"
)

type divisionCtxKey struct{}
type userCtxKey struct{}

// ScopeStore persists the per-user division selection between requests.
type ScopeStore interface {
	Save(ctx context.Context, userID string, scope division.Scope) error
	Load(ctx context.Context, userID string) (division.Scope, error)
}

// DivisionContext resolves the division scope for the request. An explicit
// header selection wins and is persisted for the user; otherwise the stored
// selection is used; otherwise the deployment default. Handlers read the
// result with ScopeFrom and pass it down explicitly.
func DivisionContext(store ScopeStore, fallback division.Scope, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID := strings.TrimSpace(r.Header.Get(userIDHeader))
			scope := scopeFromHeaders(r)

			switch {
			case !scope.IsZero():
				if store != nil && userID != "" {
					if err := store.Save(ctx, userID, scope); err != nil && logg != nil {
						logg.Warn(logg.WithField(ctx, "user_id", userID), "division.save_failed")
					}
				}
			case store != nil && userID != "":
				stored, err := store.Load(ctx, userID)
				if err != nil {
					if logg != nil {
						logg.Warn(logg.WithField(ctx, "user_id", userID), "division.load_failed")
					}
					stored = division.Scope{}
				}
				scope = stored
			}
			if scope.IsZero() {
				scope = fallback
			}

			if logg != nil && scope.DivisionID != "" {
				ctx = logg.WithDivisionID(ctx, scope.DivisionID)
			}
			ctx = context.WithValue(ctx, divisionCtxKey{}, scope)
			if userID != "" {
				ctx = context.WithValue(ctx, userCtxKey{}, userID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func scopeFromHeaders(r *http.Request) division.Scope {
	if strings.EqualFold(r.Header.Get(showAllHeader), "true") {
		return division.Scope{ShowAll: true}
	}
	return division.Scope{DivisionID: strings.TrimSpace(r.Header.Get(divisionIDHeader))}
}

// ScopeFrom returns the resolved division scope for the request.
func ScopeFrom(ctx context.Context) division.Scope {
	if scope, ok := ctx.Value(divisionCtxKey{}).(division.Scope); ok {
		return scope
	}
	return division.Scope{}
}

// UserIDFrom returns the caller's user id, empty when not supplied.
func UserIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(userCtxKey{}).(string); ok {
		return id
	}
	return ""
}
