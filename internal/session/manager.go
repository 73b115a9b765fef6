package session

import (
	"sync"

	"github.com/1mcp-app/agent/internal/aggregator"
	"github.com/1mcp-app/agent/internal/mcptag"
)

// Manager owns the live InboundSession set and the shared preset store,
// implementing aggregator.Registry so Notification Fanout can reach
// every connected session without knowing about transports.
type Manager struct {
	presets mcptag.Store

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds a Manager backed by presets, the preset definitions
// loaded from config (spec.md §4.1's `presets` block).
func NewManager(presets mcptag.Store) *Manager {
	return &Manager{presets: presets, sessions: make(map[string]*Session)}
}

// Register adds s to the live set, making it visible to fanout.
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
}

// Unregister removes s from the live set, called when its transport
// closes (spec.md §4.8 "On transport close").
func (m *Manager) Unregister(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID())
	m.mu.Unlock()
	s.Close()
}

// LiveSessions implements aggregator.Registry.
func (m *Manager) LiveSessions() []aggregator.NotifiableSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]aggregator.NotifiableSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// PresetStore implements aggregator.Registry.
func (m *Manager) PresetStore() mcptag.Store { return m.presets }

// Count reports the number of live sessions, surfaced at GET /health.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
