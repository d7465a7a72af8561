package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicebroker/internal/store/postgres"
	"github.com/MrWong99/voicebroker/internal/tools"
)

// DefaultReapInterval is how often [Manager.Reap] runs when started via
// [Manager.Start].
const DefaultReapInterval = 30 * time.Second

// DefaultIdleTTL is how long a conversation may sit untouched in process
// memory before the reaper evicts it.
const DefaultIdleTTL = 30 * time.Minute

// Manager owns the set of live [Session] values, keyed by session ID.
// Sessions are isolated from one another — cross-session interaction only
// happens through the relational and vector stores — so many calls run
// concurrently and the registry here is a plain mutex-guarded map rather
// than tracking a single active call.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	idleTTL time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager constructs an empty Manager. idleTTL is the duration of
// inactivity after which [Manager.Reap] evicts a conversation; zero selects
// [DefaultIdleTTL].
func NewManager(idleTTL time.Duration) *Manager {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Manager{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
	}
}

// Create constructs a new Session for agent, bound to executor, registers it
// under id, and returns it. Returns an error if id is already in use.
func (m *Manager) Create(id string, agent postgres.Agent, executor *tools.Executor) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("session: manager: id %q already active", id)
	}
	sess := New(id, agent, executor)
	m.sessions[id] = sess
	slog.Info("session: created", "session_id", id, "agent_id", agent.ID)
	return sess, nil
}

// Get returns the live Session for id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove evicts id from the registry and closes its resources. Safe to call
// more than once; a second call is a no-op.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	slog.Info("session: removed", "session_id", id)
	return sess.Close()
}

// Len reports the number of currently registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap evicts every session whose [Session.IdleSince] exceeds the Manager's
// idleTTL and returns the IDs it removed. A session with a turn in flight
// touches its activity clock on every append, so it is never reaped
// mid-conversation.
func (m *Manager) Reap() []string {
	m.mu.Lock()
	var stale []*Session
	for id, sess := range m.sessions {
		if sess.IdleSince() >= m.idleTTL {
			stale = append(stale, sess)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	reaped := make([]string, 0, len(stale))
	for _, sess := range stale {
		if err := sess.Close(); err != nil {
			slog.Warn("session: reap close error", "session_id", sess.ID, "error", err)
		}
		slog.Info("session: reaped (idle)", "session_id", sess.ID)
		reaped = append(reaped, sess.ID)
	}
	return reaped
}

// Start launches a background goroutine that calls [Manager.Reap] every
// interval (zero selects [DefaultReapInterval]) until ctx is cancelled or
// [Manager.Stop] is called. Start must not be called more than once without
// an intervening Stop.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Reap()
			}
		}
	}()
}

// Stop halts the background reaper started by [Manager.Start] and waits for
// it to exit. Safe to call when Start was never called.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

// CloseAll closes every currently registered session, in no particular
// order, used during process shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		all = append(all, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, sess := range all {
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
