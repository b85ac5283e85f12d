package state

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/studybot/core/logger"
)

// DefaultIdleTimeout bounds how long an untouched session stays alive.
const DefaultIdleTimeout = 30 * time.Minute

const lockShards = 64

type keyLock struct {
	mu   sync.Mutex
	refs int
}

type lockShard struct {
	mu    sync.Mutex
	locks map[Key]*keyLock
}

// Manager orchestrates sessions on top of a Store.
type Manager struct {
	store Store
	idle  time.Duration
	now   func() time.Time
	locks [lockShards]lockShard
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout overrides DefaultIdleTimeout; zero disables expiry.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idle = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager. A nil store selects a MemoryStore.
func NewManager(store Store, opts ...Option) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{store: store, idle: DefaultIdleTimeout, now: time.Now}
	for i := range m.locks {
		m.locks[i].locks = make(map[Key]*keyLock)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IdleTimeout returns the configured expiry.
func (m *Manager) IdleTimeout() time.Duration { return m.idle }

func (m *Manager) lock(k Key) func() {
	sh := &m.locks[(uint64(k.ChatID)*31+uint64(k.UserID))%lockShards]
	sh.mu.Lock()
	l, ok := sh.locks[k]
	if !ok {
		l = &keyLock{}
		sh.locks[k] = l
	}
	l.refs++
	sh.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		sh.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(sh.locks, k)
		}
		sh.mu.Unlock()
	}
}

// load returns the live session or nil, dropping an expired one.
func (m *Manager) load(ctx context.Context, key Key) (*Session, error) {
	s, err := m.store.Load(ctx, key)
	if err != nil || s == nil {
		return nil, err
	}
	if s.expired(m.now(), m.idle) {
		if _, err := m.store.Delete(ctx, key); err != nil {
			return nil, err
		}
		logger.Debug(ctx, "session", "session.expired",
			slog.String("key", key.String()),
			slog.String("wizard", s.Wizard),
			slog.String("state", string(s.State)),
		)
		return nil, nil
	}
	return s, nil
}

// Update runs fn with the current session (nil when none) while holding the
// key's lock. fn returns the session to keep, or nil to end it. When fn fails
// nothing is written.
func (m *Manager) Update(ctx context.Context, key Key, fn func(cur *Session) (*Session, error)) (*Session, error) {
	unlock := m.lock(key)
	defer unlock()

	cur, err := m.load(ctx, key)
	if err != nil {
		return nil, err
	}
	next, err := fn(cur)
	if err != nil {
		return cur, err
	}
	if next == nil {
		if cur != nil {
			if _, err := m.store.Delete(ctx, key); err != nil {
				return cur, err
			}
		}
		return nil, nil
	}
	next.UpdatedAt = m.now()
	if err := m.store.Save(ctx, key, next); err != nil {
		return cur, err
	}
	return next, nil
}

// Get returns the live session or ErrNoSession.
func (m *Manager) Get(ctx context.Context, key Key) (*Session, error) {
	unlock := m.lock(key)
	defer unlock()
	s, err := m.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

// Active reports whether key has a live session. Store errors count as no.
func (m *Manager) Active(ctx context.Context, key Key) bool {
	_, err := m.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNoSession) {
		logger.Warn(ctx, "session", "session.load", slog.String("key", key.String()), logger.Err(err))
	}
	return err == nil
}

// Begin replaces whatever session key had with s.
func (m *Manager) Begin(ctx context.Context, key Key, s *Session) error {
	_, err := m.Update(ctx, key, func(*Session) (*Session, error) { return s.Clone(), nil })
	if err == nil {
		logger.Debug(ctx, "session", "session.begin",
			slog.String("key", key.String()),
			slog.String("wizard", s.Wizard),
			slog.String("state", string(s.State)),
		)
	}
	return err
}

// Clear ends the session. It reports false when nothing was active.
func (m *Manager) Clear(ctx context.Context, key Key) (bool, error) {
	var had bool
	_, err := m.Update(ctx, key, func(cur *Session) (*Session, error) {
		had = cur != nil
		return nil, nil
	})
	return had, err
}

// Sweep removes sessions idle longer than the timeout.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	if m.idle <= 0 {
		return 0, nil
	}
	return m.store.Sweep(ctx, m.now().Add(-m.idle))
}

// Sweeper periodically calls Manager.Sweep.
type Sweeper struct {
	m        *Manager
	interval time.Duration
}

// NewSweeper defaults interval to a minute.
func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{m: m, interval: interval}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := s.m.Sweep(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				logger.Warn(ctx, "session", "session.sweep", logger.Err(err))
			case n > 0:
				logger.Info(ctx, "session", "session.sweep", slog.Int("removed", n))
			}
		}
	}
}
