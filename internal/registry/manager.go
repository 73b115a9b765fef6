package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/upstream"
)

// IdleGrace is how long a template connection survives after its last
// referencing session releases it, before being torn down (spec.md
// §4.6 Open Question — decision recorded in DESIGN.md).
const IdleGrace = 5 * time.Minute

type templateEntry struct {
	conn     *upstream.OutboundConnection
	refCount int
	idleAt   time.Time // zero while refCount > 0
}

// TemplateManager renders template ServerParams per session and shares
// one OutboundConnection across sessions whose renderings are
// byte-identical, per spec.md §4.6's invariant.
type TemplateManager struct {
	mu        sync.Mutex
	templates map[string]config.ServerParams
	entries   map[string]*templateEntry

	dial func(ctx context.Context, p config.ServerParams) (*upstream.OutboundConnection, error)

	stop chan struct{}
}

// NewTemplateManager builds a manager over the configured template
// definitions, dialing new renderings via dial.
func NewTemplateManager(templates map[string]config.ServerParams, dial func(ctx context.Context, p config.ServerParams) (*upstream.OutboundConnection, error)) *TemplateManager {
	tm := &TemplateManager{
		templates: templates,
		entries:   make(map[string]*templateEntry),
		dial:      dial,
		stop:      make(chan struct{}),
	}
	go tm.gcLoop()
	return tm
}

// Lookup returns the named template's base params.
func (tm *TemplateManager) Lookup(name string) (config.ServerParams, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	p, ok := tm.templates[name]
	return p, ok
}

// Names returns every configured template name, for callers (the
// Session Manager's capability refresh) that need to admit templates
// alongside static servers.
func (tm *TemplateManager) Names() []string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	names := make([]string, 0, len(tm.templates))
	for n := range tm.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Replace swaps the configured template set on reload.
func (tm *TemplateManager) Replace(templates map[string]config.ServerParams) {
	tm.mu.Lock()
	tm.templates = templates
	tm.mu.Unlock()
}

// Acquire renders base against sessionCtx and returns the shared
// connection for that rendering, dialing it on first reference.
func (tm *TemplateManager) Acquire(ctx context.Context, base config.ServerParams, sessionCtx map[string]any) (*upstream.OutboundConnection, error) {
	rendered, err := Render(base, sessionCtx)
	if err != nil {
		return nil, err
	}
	key := rendered.Hash()

	tm.mu.Lock()
	if e, ok := tm.entries[key]; ok {
		e.refCount++
		e.idleAt = time.Time{}
		tm.mu.Unlock()
		return e.conn, nil
	}
	tm.mu.Unlock()

	conn, err := tm.dial(ctx, rendered)
	if err != nil {
		return nil, err
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if e, ok := tm.entries[key]; ok {
		// Lost a race with a concurrent Acquire; keep the winner's
		// connection and drop ours.
		e.refCount++
		e.idleAt = time.Time{}
		return e.conn, nil
	}
	tm.entries[key] = &templateEntry{conn: conn, refCount: 1}
	return conn, nil
}

// Release drops one reference to the rendering keyed by key, starting
// its idle-grace timer once the count reaches zero.
func (tm *TemplateManager) Release(key string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	e, ok := tm.entries[key]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		e.refCount = 0
		e.idleAt = time.Now()
	}
}

func (tm *TemplateManager) peek(key string) (*upstream.OutboundConnection, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	e, ok := tm.entries[key]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Close stops the GC loop.
func (tm *TemplateManager) Close() { close(tm.stop) }

func (tm *TemplateManager) gcLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-tm.stop:
			return
		case <-ticker.C:
			tm.sweep()
		}
	}
}

func (tm *TemplateManager) sweep() {
	now := time.Now()
	var toClose []*upstream.OutboundConnection

	tm.mu.Lock()
	for key, e := range tm.entries {
		if e.refCount == 0 && !e.idleAt.IsZero() && now.Sub(e.idleAt) >= IdleGrace {
			toClose = append(toClose, e.conn)
			delete(tm.entries, key)
		}
	}
	tm.mu.Unlock()

	for _, c := range toClose {
		if cl := c.Client(); cl != nil {
			_ = cl.Close()
		}
	}
}
