package division

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/distrohq/salesdesk/pkg/redis"
)

type kvStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	DivisionContextKey(userID string) string
}

// Store persists a user's division selection so concurrent screens observe
// the same scope across requests.
type Store struct {
	kv  kvStore
	ttl time.Duration
}

// NewStore builds the division context store.
func NewStore(kv kvStore, ttl time.Duration) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("kv store required")
	}
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	return &Store{kv: kv, ttl: ttl}, nil
}

// Save writes the selection for the given user.
func (s *Store) Save(ctx context.Context, userID string, scope Scope) error {
	payload, err := json.Marshal(scope)
	if err != nil {
		return fmt.Errorf("marshal division scope: %w", err)
	}
	return s.kv.Set(ctx, s.kv.DivisionContextKey(userID), string(payload), s.ttl)
}

// Load reads the selection for the given user; a missing key yields the
// zero scope, not an error.
func (s *Store) Load(ctx context.Context, userID string) (Scope, error) {
	raw, err := s.kv.Get(ctx, s.kv.DivisionContextKey(userID))
	if err != nil {
		if redis.IsNotFound(err) {
			return Scope{}, nil
		}
		return Scope{}, fmt.Errorf("load division scope: %w", err)
	}
	var scope Scope
	if err := json.Unmarshal([]byte(raw), &scope); err != nil {
		return Scope{}, fmt.Errorf("decode division scope: %w", err)
	}
	return scope, nil
}

// Clear drops the stored selection.
func (s *Store) Clear(ctx context.Context, userID string) error {
	return s.kv.Del(ctx, s.kv.DivisionContextKey(userID))
}
