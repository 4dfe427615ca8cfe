// Package session owns the lifecycle of the single browser session that is
// shared by all jobs of a batch.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jakopako/revscrape/internal/log"
)

// ErrLaunch is returned if a session cannot be created.
var ErrLaunch = errors.New("failed to launch browser session")

// Session is a live browsing context.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a session for the given browsing context. cancel tears the
// browsing context down.
func New(ctx context.Context, cancel context.CancelFunc) *Session {
	return &Session{ctx: ctx, cancel: cancel}
}

// Context returns the browsing context. For chrome sessions this is the
// chromedp context of the session's initial tab.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Alive reports whether the browsing context is still usable. A session
// whose browser tab was closed or crashed is not alive.
func (s *Session) Alive() bool {
	return s.ctx.Err() == nil
}

// LaunchFunc creates a new session.
type LaunchFunc func(ctx context.Context) (*Session, error)

// Manager hands out at most one live session at a time.
type Manager struct {
	launch     LaunchFunc
	mu         sync.Mutex
	current    *Session
	nrLaunched int
	nrReleased int
}

func NewManager(launch LaunchFunc) *Manager {
	return &Manager{launch: launch}
}

// Acquire returns the live session or creates one if there is none. A
// session that is no longer alive is torn down and replaced.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logger := log.LoggerFromContext(ctx)
	if m.current != nil {
		if m.current.Alive() {
			return m.current, nil
		}
		logger.Warn("browser session was lost, launching a new one")
		m.releaseLocked()
	}
	logger.Info("launching browser session")
	s, err := m.launch(ctx)
	if err != nil {
		if errors.Is(err, ErrLaunch) {
			return nil, err
		}
		return nil, errors.Join(ErrLaunch, err)
	}
	m.current = s
	m.nrLaunched++
	logger.Debug("browser session launched", slog.Int("launches", m.nrLaunched))
	return s, nil
}

// Release tears down the live session. It is safe to call if there is none.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
}

// must be called with m.mu held
func (m *Manager) releaseLocked() {
	if m.current == nil {
		return
	}
	if m.current.cancel != nil {
		m.current.cancel()
	}
	m.current = nil
	m.nrReleased++
	slog.Debug("browser session released", slog.Int("releases", m.nrReleased))
}

// Live reports whether a session is currently live.
func (m *Manager) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.Alive()
}
