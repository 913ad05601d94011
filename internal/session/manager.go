package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/distrohq/salesdesk/internal/wizard"
	"github.com/distrohq/salesdesk/pkg/division"
	pkgerrors "github.com/distrohq/salesdesk/pkg/errors"
	"github.com/distrohq/salesdesk/pkg/logger"
)

// Session is one operator's wizard pass, addressed by an opaque id.
type Session struct {
	ID        string
	UserID    string
	Wizard    *wizard.Wizard
	CreatedAt time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen) > ttl
}

// WizardFactory builds a wizard for a new session with the scope the
// operator resolved.
type WizardFactory func(scope division.Scope) (*wizard.Wizard, error)

// Manager owns the live wizard sessions. Sessions idle past the TTL are
// reaped by a background sweeper.
type Manager struct {
	factory WizardFactory
	ttl     time.Duration
	sweep   time.Duration
	logg    *logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager builds a session manager; call Start to run the sweeper.
func NewManager(factory WizardFactory, ttl, sweepInterval time.Duration, logg *logger.Logger) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("wizard factory required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	if sweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}
	return &Manager{
		factory:  factory,
		ttl:      ttl,
		sweep:    sweepInterval,
		logg:     logg,
		now:      time.Now,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}, nil
}

// Create opens a fresh session for the user with the given division scope.
func (m *Manager) Create(userID string, scope division.Scope) (*Session, error) {
	wiz, err := m.factory(scope)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build wizard")
	}

	now := m.now()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Wizard:    wiz,
		CreatedAt: now,
		lastSeen:  now,
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess, nil
}

// Get returns the session and refreshes its idle clock.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wizard session not found or expired")
	}

	now := m.now()
	if sess.expired(now, m.ttl) {
		m.Delete(id)
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wizard session not found or expired")
	}
	sess.touch(now)
	return sess, nil
}

// Delete removes a session.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Start runs the expiry sweeper until Stop is called or ctx ends.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				reaped := m.reap()
				if reaped > 0 && m.logg != nil {
					m.logg.Info(m.logg.WithField(ctx, "reaped", reaped), "session.sweep")
				}
			}
		}
	}()
}

// Stop halts the sweeper.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) reap() int {
	now := m.now()

	m.mu.Lock()
	var stale []string
	for id, sess := range m.sessions {
		if sess.expired(now, m.ttl) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	return len(stale)
}
