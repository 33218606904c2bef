// Package session ties the lifetime of the monitoring engine to signed-in
// users. The first session starts an engine; closing the last one stops it
// and discards its state, including the alert dedup set. Each session also
// owns its assistant conversation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/coldwatch/internal/chat"
	"github.com/sweeney/coldwatch/internal/monitor"
)

// ErrNoSession is returned for unknown or already closed session ids.
var ErrNoSession = errors.New("session: no such session")

// ErrNoEngine is returned when no engine is running.
var ErrNoEngine = errors.New("session: monitoring is not running")

// Factory builds a new, unstarted engine.
type Factory func() *monitor.Engine

// Hooks observe engine lifecycle. Either may be nil.
type Hooks struct {
	// Started is called after an engine has been started.
	Started func(*monitor.Engine)
	// Stopped is called after an engine has been stopped.
	Stopped func()
}

type session struct {
	subject string
	expires time.Time
	chat    *chat.Conversation
}

// Manager tracks open sessions and owns the engine.
type Manager struct {
	ctx     context.Context
	factory Factory
	hooks   Hooks

	mu       sync.Mutex
	sessions map[string]session
	engine   *monitor.Engine
	starting *startup
	pinned   bool
	shared   *chat.Conversation // pinned mode, no sign-in
	shutdown bool
}

// startup is an engine start in progress. done is closed once err is set
// or the engine has been published.
type startup struct {
	done chan struct{}
	err  error
}

// NewManager creates a Manager. Engines are started with ctx, so cancelling
// it stops polling regardless of sessions.
func NewManager(ctx context.Context, f Factory, h Hooks) *Manager {
	return &Manager{
		ctx:      ctx,
		factory:  f,
		hooks:    h,
		sessions: make(map[string]session),
	}
}

// Open registers session id for subject until expires and returns the
// running engine, starting one if this is the first session.
func (m *Manager) Open(id, subject string, expires time.Time) (*monitor.Engine, error) {
	return m.acquire(func() {
		m.sessions[id] = session{subject: subject, expires: expires, chat: chat.NewConversation()}
		log.Printf("session: opened for %s (%d active)", subject, len(m.sessions))
	})
}

// Pin starts an engine that keeps running with no sessions. Used when
// authentication is disabled.
func (m *Manager) Pin() (*monitor.Engine, error) {
	return m.acquire(func() {
		m.pinned = true
		if m.shared == nil {
			m.shared = chat.NewConversation()
		}
	})
}

// acquire returns the running engine, starting one if needed, and calls
// register under the lock while that engine is current. The engine is
// started without holding the lock; concurrent callers wait for it.
func (m *Manager) acquire(register func()) (*monitor.Engine, error) {
	for {
		m.mu.Lock()
		if m.shutdown {
			m.mu.Unlock()
			return nil, ErrNoEngine
		}
		if e := m.engine; e != nil {
			register()
			m.mu.Unlock()
			return e, nil
		}
		if st := m.starting; st != nil {
			m.mu.Unlock()
			<-st.done
			if st.err != nil {
				return nil, st.err
			}
			continue
		}
		st := &startup{done: make(chan struct{})}
		m.starting = st
		m.mu.Unlock()

		e := m.factory()
		err := e.Start(m.ctx)

		m.mu.Lock()
		m.starting = nil
		if err == nil && m.shutdown {
			e.Stop()
			err = ErrNoEngine
		}
		if err != nil {
			st.err = fmt.Errorf("start engine: %w", err)
			m.mu.Unlock()
			close(st.done)
			return nil, st.err
		}
		m.engine = e
		if m.hooks.Started != nil {
			m.hooks.Started(e)
		}
		register()
		m.mu.Unlock()
		close(st.done)
		return e, nil
	}
}

// Close ends session id. Closing the last session stops the engine unless
// it is pinned.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNoSession
	}
	delete(m.sessions, id)
	log.Printf("session: closed for %s (%d active)", s.subject, len(m.sessions))
	m.maybeStopLocked()
	return nil
}

// Prune closes every session that expired before now.
func (m *Manager) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if !s.expires.IsZero() && s.expires.Before(now) {
			delete(m.sessions, id)
			n++
		}
	}
	if n > 0 {
		log.Printf("session: expired %d (%d active)", n, len(m.sessions))
		m.maybeStopLocked()
	}
	return n
}

func (m *Manager) maybeStopLocked() {
	if len(m.sessions) > 0 || m.pinned || m.engine == nil {
		return
	}
	m.engine.Stop()
	m.engine = nil
	if m.hooks.Stopped != nil {
		m.hooks.Stopped()
	}
}

// Valid reports whether id is an open session.
func (m *Manager) Valid(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// Conversation returns the assistant conversation of session id. The empty
// id selects the shared conversation of a pinned engine.
func (m *Manager) Conversation(id string) (*chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == "" {
		if m.shared == nil {
			return nil, ErrNoSession
		}
		return m.shared, nil
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNoSession
	}
	return s.chat, nil
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Engine returns the running engine.
func (m *Manager) Engine() (*monitor.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine == nil {
		return nil, ErrNoEngine
	}
	return m.engine, nil
}

// Shutdown closes every session and stops the engine. Later Open and Pin
// calls fail with ErrNoEngine.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]session)
	m.pinned = false
	m.shared = nil
	m.shutdown = true
	m.maybeStopLocked()
}
