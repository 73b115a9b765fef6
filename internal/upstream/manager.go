package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/log"
)

// AuthHeaderFunc returns the current bearer value to attach to outbound
// requests for one upstream, or "" if none is available yet. The OAuth
// Integration module supplies the real implementation; it is injected
// here so upstream stays independent of internal/oauth.
type AuthHeaderFunc func(serverName string) string

// OutboundConnection is the mutable runtime state for one upstream
// (spec.md §3): params, transport-bound client, and status. The
// invariant `status == Connected ⇒ client handshake-complete` is
// maintained by storing the handshake-complete client before
// StatusConnected is published.
type OutboundConnection struct {
	name   string
	params config.ServerParams

	mu     sync.Mutex
	client *Client
	status *statusBox
	bo     *backoff.ExponentialBackOff

	cancel context.CancelFunc
	done   chan struct{}
}

// Status returns the connection's current status record.
func (c *OutboundConnection) Status() StatusRecord { return c.status.Load() }

// Params returns the params this connection was built from.
func (c *OutboundConnection) Params() config.ServerParams { return c.params }

// Client returns the live client, or nil when not Connected. Callers
// must re-check Status before use — the client can transition to
// Disconnected between the two calls, same as any concurrent system.
func (c *OutboundConnection) Client() *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// ListChangedSink receives (serverName, kind, tags) whenever any
// managed connection forwards an upstream list_changed notification,
// per the Client Manager's role as the hub spec.md §4.4 names
// ("forwarded to the Client Manager"). tags is the upstream's own tag
// set, the admission check Notification Fanout runs against each
// session's filter.
type ListChangedSink func(serverName, kind string, tags map[string]bool)

// TransitionSink observes every status transition a connection makes,
// feeding the ambient Connection Event Log. Never consulted by the hot
// path; a nil sink (the default in tests) simply means no diagnostics
// are recorded.
type TransitionSink func(serverName string, from, to Status, detail string)

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (c *OutboundConnection) setStatus(sink TransitionSink, next StatusRecord, detail string) {
	prev := c.status.Load()
	c.status.Store(next)
	if sink != nil && prev.Status != next.Status {
		sink(c.name, prev.Status, next.Status, detail)
	}
}

// Manager owns the full set of OutboundConnections (spec.md §4.5). The
// map itself is guarded by a mutex and replaced wholesale (copy-on-
// write) on every reload so readers can snapshot it without locking
// against a writer.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*OutboundConnection

	authHeader   AuthHeaderFunc
	onChanged    ListChangedSink
	onTransition TransitionSink
	dialTimeout  time.Duration
}

// NewManager builds an empty Manager. authHeader and onChanged may be
// nil in tests that don't exercise OAuth or notification fanout.
func NewManager(authHeader AuthHeaderFunc, onChanged ListChangedSink) *Manager {
	return &Manager{
		connections: make(map[string]*OutboundConnection),
		authHeader:  authHeader,
		onChanged:   onChanged,
		dialTimeout: RequestTimeout,
	}
}

// WithTransitionSink attaches the Connection Event Log hook. Returns m
// for chaining at construction time.
func (m *Manager) WithTransitionSink(sink TransitionSink) *Manager {
	m.onTransition = sink
	return m
}

// Snapshot returns a copy-on-write view of the current connection map,
// safe to range over without holding any lock (spec.md §5).
func (m *Manager) Snapshot() map[string]*OutboundConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*OutboundConnection, len(m.connections))
	for k, v := range m.connections {
		out[k] = v
	}
	return out
}

// Get looks up one connection by name.
func (m *Manager) Get(name string) (*OutboundConnection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[name]
	return c, ok
}

// ChangeKind enumerates what ApplyReload did to one upstream name, the
// classification ReloadDiff carries (spec.md §4.5 step 5).
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeMutated ChangeKind = "mutated"
)

// ReloadDiff is the result ApplyReload hands to the Config Reload
// Service, which feeds it to Notification Fanout.
type ReloadDiff struct {
	Changes map[string]ChangeKind
}

// Names returns every upstream name touched by the reload, the
// `changed = added ∪ removed ∪ mutated` set spec.md §4.9 consumes.
func (d ReloadDiff) Names() []string {
	names := make([]string, 0, len(d.Changes))
	for n := range d.Changes {
		names = append(names, n)
	}
	return names
}

// ApplyReload runs the five-step diff algorithm of spec.md §4.5 against
// the new snapshot. It never blocks new inbound sessions (callers only
// ever observe the map before or after this swap, atomically) and a
// single upstream dial failure never aborts the rest of the reload.
func (m *Manager) ApplyReload(ctx context.Context, next config.OutboundConfig) ReloadDiff {
	m.mu.Lock()
	old := m.connections
	m.mu.Unlock()

	oldNames := make(map[string]bool, len(old))
	for n := range old {
		oldNames[n] = true
	}
	newParams := next.Servers
	newNames := make(map[string]bool, len(newParams))
	for n := range newParams {
		newNames[n] = true
	}

	diff := ReloadDiff{Changes: make(map[string]ChangeKind)}

	var removed, mutated, added []string
	for n := range oldNames {
		if !newNames[n] {
			removed = append(removed, n)
		}
	}
	for n := range newNames {
		if !oldNames[n] {
			added = append(added, n)
			continue
		}
		if !old[n].Params().Equal(newParams[n]) {
			mutated = append(mutated, n)
		}
	}

	working := make(map[string]*OutboundConnection, len(old))
	for k, v := range old {
		working[k] = v
	}

	for _, n := range removed {
		m.shutdown(working[n])
		delete(working, n)
		diff.Changes[n] = ChangeRemoved
	}
	for _, n := range mutated {
		m.shutdown(working[n])
		delete(working, n)
		working[n] = m.spawn(ctx, newParams[n])
		diff.Changes[n] = ChangeMutated
	}
	for _, n := range added {
		working[n] = m.spawn(ctx, newParams[n])
		diff.Changes[n] = ChangeAdded
	}

	m.mu.Lock()
	m.connections = working
	m.mu.Unlock()

	return diff
}

// shutdown closes a connection's transport and stops its reconnect
// loop. Idempotent.
func (m *Manager) shutdown(c *OutboundConnection) {
	if c == nil {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if cl := c.Client(); cl != nil {
		_ = cl.Close()
	}
	if c.done != nil {
		<-c.done
	}
	c.setStatus(m.onTransition, StatusRecord{Status: StatusDisconnected}, "")
}

// spawn constructs a new OutboundConnection and starts its reconnect
// loop (first handshake attempt inline before returning is explicitly
// NOT required by spec.md §4.5 step 4: "attempt first handshake;
// failure transitions to Error + backoff, does not abort the reload" —
// the attempt itself runs in the connection's own goroutine so a slow
// or failing dial never blocks applyReload).
func (m *Manager) spawn(ctx context.Context, p config.ServerParams) *OutboundConnection {
	connCtx, cancel := context.WithCancel(ctx)
	c := &OutboundConnection{
		name:   p.Name,
		params: p,
		status: newStatusBox(),
		bo:     newBackoff(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if p.Disabled {
		c.setStatus(m.onTransition, StatusRecord{Status: StatusDisconnected}, "disabled")
		close(c.done)
		return c
	}
	go m.reconnectLoop(connCtx, c)
	return c
}

// reconnectLoop owns c's status transitions exclusively (single-writer
// per connection, spec.md §5) until connCtx is canceled.
func (m *Manager) reconnectLoop(ctx context.Context, c *OutboundConnection) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.setStatus(m.onTransition, StatusRecord{Status: StatusConnecting}, "")

		var authHeader func() string
		if m.authHeader != nil {
			authHeader = func() string { return m.authHeader(c.name) }
		}

		transport, err := BuildTransport(c.params, authHeader)
		if err == nil {
			dialCtx, dialCancel := context.WithTimeout(ctx, m.dialTimeout)
			var cl *Client
			cl, err = Dial(dialCtx, c.params, transport, func(kind string) {
				if m.onChanged != nil {
					m.onChanged(c.name, kind, c.params.TagSet())
				}
			})
			dialCancel()
			if err == nil {
				c.mu.Lock()
				c.client = cl
				c.mu.Unlock()
				c.setStatus(m.onTransition, StatusRecord{Status: StatusConnected, LastConnectedAt: time.Now()}, "")
				c.bo.Reset()

				log.With("upstream", c.name).Info("connected")
				<-ctx.Done()
				_ = cl.Close()
				c.mu.Lock()
				c.client = nil
				c.mu.Unlock()
				return
			}
		}

		log.With("upstream", c.name).Warn("dial failed", "err", err)
		c.setStatus(m.onTransition, StatusRecord{Status: StatusError, LastError: err}, errDetail(err))

		delay, boErr := c.bo.NextBackOff()
		if boErr != nil {
			// MaxElapsedTime is unset (see newBackoff), so v5's
			// ExponentialBackOff never actually returns an error here;
			// fall back to its ceiling rather than propagate a zero delay.
			delay = c.bo.MaxInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Shutdown closes every connection with a drain deadline, per the
// process-wide shutdown sequence of spec.md §5 step 3.
func (m *Manager) Shutdown(drain time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	m.mu.Lock()
	conns := m.connections
	m.connections = map[string]*OutboundConnection{}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *OutboundConnection) {
			defer wg.Done()
			m.shutdown(c)
		}(c)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
