// Package health implements the aggregator's health surface: an
// in-memory rollup of every upstream's status plus, when a Connection
// Event Log is configured, its recent transition history.
package health

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/1mcp-app/agent/internal/store"
	"github.com/1mcp-app/agent/internal/upstream"
)

// State is the read-only facade handlers query. It never itself
// tracks status; it always reads through to the live Manager, so
// responses are never stale.
type State struct {
	manager *upstream.Manager
	events  *store.Store // nil disables the ?history= query
}

// New builds a State backed by manager. events may be nil.
func New(manager *upstream.Manager, events *store.Store) *State {
	return &State{manager: manager, events: events}
}

// IsHealthy reports false only while some upstream is in StatusError
// without ever having reached StatusConnected; upstreams that are still
// connecting, disconnected, disabled, or in Error after an earlier
// successful connect all count as healthy. A process with zero
// configured upstreams is trivially healthy.
func (s *State) IsHealthy() bool {
	for _, c := range s.manager.Snapshot() {
		st := c.Status()
		if st.Status == upstream.StatusError && st.LastConnectedAt.IsZero() {
			return false
		}
	}
	return true
}

// upstreamReport is one entry of the /health JSON body.
type upstreamReport struct {
	Status  string                  `json:"status"`
	Error   string                  `json:"error,omitempty"`
	History []store.ConnectionEvent `json:"history,omitempty"`
}

type report struct {
	Status    string                    `json:"status"`
	Sessions  int                       `json:"sessions,omitempty"`
	Upstreams map[string]upstreamReport `json:"upstreams"`
}

// SessionCounter reports how many inbound sessions are currently live,
// surfaced alongside upstream status.
type SessionCounter interface {
	Count() int
}

// Handler implements GET /health, optionally deepened by
// ?history=<n> which attaches each upstream's last n Connection Event
// Log rows (spec.md EXTERNAL INTERFACES, added).
func Handler(state *State, sessions SessionCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		historyN := 0
		if raw := r.URL.Query().Get("history"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				historyN = n
			}
		}

		rep := report{Upstreams: make(map[string]upstreamReport)}
		if sessions != nil {
			rep.Sessions = sessions.Count()
		}

		healthy := true
		for name, c := range state.manager.Snapshot() {
			st := c.Status()
			ur := upstreamReport{Status: string(st.Status)}
			if st.LastError != nil {
				ur.Error = st.LastError.Error()
			}
			if st.Status == upstream.StatusError && st.LastConnectedAt.IsZero() {
				healthy = false
			}
			if historyN > 0 && state.events != nil {
				if events, err := state.events.History(r.Context(), name, historyN); err == nil {
					ur.History = events
				}
			}
			rep.Upstreams[name] = ur
		}

		if healthy {
			rep.Status = "ok"
			w.WriteHeader(http.StatusOK)
		} else {
			rep.Status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rep)
	}
}
