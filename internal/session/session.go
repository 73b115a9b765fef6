// Package session implements the Session Manager (spec.md §4.8):
// per-inbound-transport lifecycle, from transport connect through
// capability-view teardown.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1mcp-app/agent/internal/aggregator"
	"github.com/1mcp-app/agent/internal/log"
	"github.com/1mcp-app/agent/internal/mcptag"
	"github.com/1mcp-app/agent/internal/registry"
	"github.com/1mcp-app/agent/internal/upstream"
)

// Metadata is the per-connect request data the transport layer extracts
// before a Session is built (spec.md §4.8 step 1): tags, advanced
// expression, and preset name.
type Metadata struct {
	SessionID       string
	Tags            []string
	TagExpression   *mcptag.Expr
	PresetName      string
	TemplateContext map[string]any
}

// ResolveFilter implements spec.md §4.8 step 2: a preset name wins over
// an explicit tag/expression composition.
func (m Metadata) ResolveFilter() mcptag.Filter {
	if m.PresetName != "" {
		return mcptag.Preset(m.PresetName)
	}
	if m.TagExpression != nil {
		return mcptag.Advanced(*m.TagExpression)
	}
	if len(m.Tags) > 0 {
		return mcptag.SimpleOr(m.Tags)
	}
	return mcptag.None()
}

// Session is one InboundSession (spec.md §3): it owns its inbound
// mcp.Server and the template context used to render template
// upstreams, and exposes just enough surface for the aggregator's
// Notification Fanout to reach it.
type Session struct {
	id              string
	createdAt       time.Time
	filter          mcptag.Filter
	templateContext map[string]any

	server     *mcp.Server
	serverSess *mcp.ServerSession

	registry *registry.Registry
	manager  *upstream.Manager
	presets  mcptag.Store

	mu            sync.Mutex
	released      []string                                  // registry connection keys acquired, for template GC on close
	templateConns map[string]*upstream.OutboundConnection // template name -> resolved connection, cached across Refresh calls

	registered aggregator.Capabilities // what's currently added to server, for diffing on Refresh
}

// New builds a Session from connect-time Metadata, assigning a fresh
// sessionId via google/uuid when the transport didn't supply one
// (spec.md §4.8 step 1). manager and presets are the live upstream set
// and preset store Refresh reads from on every recompute.
func New(meta Metadata, reg *registry.Registry, manager *upstream.Manager, presets mcptag.Store) *Session {
	id := meta.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	templateContext := meta.TemplateContext
	if templateContext == nil {
		templateContext = map[string]any{}
	}
	if _, ok := templateContext["session"]; !ok {
		templateContext["session"] = map[string]any{"id": id}
	}
	return &Session{
		id:              id,
		createdAt:       time.Now(),
		filter:          meta.ResolveFilter(),
		templateContext: templateContext,
		registry:        reg,
		manager:         manager,
		presets:         presets,
		templateConns:   make(map[string]*upstream.OutboundConnection),
	}
}

// ID implements aggregator.NotifiableSession.
func (s *Session) ID() string { return s.id }

// AllowedUpstreams returns the upstream names currently admitted into
// this session's capability view, the routing set CompletionHandler and
// the logging/setLevel handler check invocations against (spec.md §4.7
// "a session can only invoke what it can see").
func (s *Session) AllowedUpstreams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	for _, t := range s.registered.Tools {
		seen[t.ServerName] = true
	}
	for _, p := range s.registered.Prompts {
		seen[p.ServerName] = true
	}
	for _, r := range s.registered.Resources {
		seen[r.ServerName] = true
	}
	for _, rt := range s.registered.ResourceTemplates {
		seen[rt.ServerName] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Conns returns the connection map this session's current capability
// view was built against: the live static upstream set plus any
// template connections it has resolved, the shape CompletionHandler and
// the logging/setLevel handler need to route an invocation.
func (s *Session) Conns() map[string]*upstream.OutboundConnection {
	conns := s.manager.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, c := range s.templateConns {
		conns[name] = c
	}
	return conns
}

// Filter implements aggregator.NotifiableSession.
func (s *Session) Filter() mcptag.Filter { return s.filter }

// CreatedAt reports when the session was established.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// TemplateContext returns the per-session rendering context for
// template upstreams.
func (s *Session) TemplateContext() map[string]any { return s.templateContext }

// AttachServer records the instantiated inbound server/session pair and
// performs the initial capability registration (spec.md §4.8 step 5).
func (s *Session) AttachServer(ctx context.Context, srv *mcp.Server, ss *mcp.ServerSession) {
	s.mu.Lock()
	s.server, s.serverSess = srv, ss
	s.mu.Unlock()
	s.Refresh(ctx)
}

// Refresh implements aggregator.NotifiableSession: it recomputes the
// session's admitted capability view from the live upstream set and
// updates the inbound server's registered Tool/Prompt/Resource/
// ResourceTemplate set to match, removing everything previously
// registered and re-adding the full new view (not just the delta). The
// SDK's own list_changed delivery fires off of those
// Add/Remove calls, so Refresh never touches the wire directly (spec.md
// §4.9: "a failure to deliver to one session does not affect others" —
// a panic here is recovered by the caller, aggregator.Fanout).
func (s *Session) Refresh(ctx context.Context) {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return
	}

	conns := s.manager.Snapshot()
	names, err := aggregator.AdmittedNames(conns, s.filter, s.presets)
	if err != nil {
		log.With("session", s.id).Warn("capability refresh: resolving filter failed", "err", err)
		return
	}

	templateNames, templateConns := s.resolveTemplates(ctx)
	for name, conn := range templateConns {
		conns[name] = conn
	}
	if len(templateNames) > 0 {
		names = append(names, templateNames...)
		sort.Strings(names)
	}

	next, err := aggregator.BuildCapabilities(ctx, conns, names)
	if err != nil {
		log.With("session", s.id).Warn("capability refresh: building view failed", "err", err)
		return
	}

	s.mu.Lock()
	prev := s.registered
	s.registered = next
	s.mu.Unlock()

	if toolNames := prev.ToolNames(); len(toolNames) > 0 {
		srv.RemoveTools(toolNames...)
	}
	if promptNames := prev.PromptNames(); len(promptNames) > 0 {
		srv.RemovePrompts(promptNames...)
	}
	if resourceURIs := prev.ResourceURIs(); len(resourceURIs) > 0 {
		srv.RemoveResources(resourceURIs...)
	}
	if templateURIs := prev.TemplateURITemplates(); len(templateURIs) > 0 {
		srv.RemoveResourceTemplates(templateURIs...)
	}

	for _, t := range next.Tools {
		srv.AddTool(t.Tool, t.Handler)
	}
	for _, p := range next.Prompts {
		srv.AddPrompt(p.Prompt, p.Handler)
	}
	for _, r := range next.Resources {
		srv.AddResource(r.Resource, r.Handler)
	}
	for _, rt := range next.ResourceTemplates {
		srv.AddResourceTemplate(rt.Template, rt.Handler)
	}
}

// resolveTemplates admits and resolves the session's template upstreams
// against templateContext (spec.md §4.6), caching each resolved
// connection for the life of the session so repeated Refresh calls
// don't re-acquire a reference already held. Template names colliding
// with a static server name lose to the static one, matching
// Registry.Resolve's own external-first precedence.
func (s *Session) resolveTemplates(ctx context.Context) (names []string, conns map[string]*upstream.OutboundConnection) {
	if s.registry == nil {
		return nil, nil
	}
	conns = make(map[string]*upstream.OutboundConnection)
	for _, name := range s.registry.TemplateNames() {
		if _, isStatic := s.manager.Get(name); isStatic {
			continue
		}
		params, ok := s.registry.TemplateParams(name)
		if !ok {
			continue
		}
		admits, err := s.filter.Admits(params.TagSet(), s.presets)
		if err != nil || !admits {
			continue
		}

		s.mu.Lock()
		cached, have := s.templateConns[name]
		s.mu.Unlock()
		if have {
			conns[name] = cached
			names = append(names, name)
			continue
		}

		adapter, ok := s.registry.Resolve(name, s.templateContext)
		if !ok {
			continue
		}
		conn, err := adapter.ResolveConnection(ctx)
		if err != nil {
			log.With("session", s.id, "template", name).Warn("resolving template connection failed", "err", err)
			continue
		}
		key := adapter.ConnectionKey(ctx)

		s.mu.Lock()
		s.templateConns[name] = conn
		s.mu.Unlock()
		if key != "" {
			s.TrackTemplateKey(key)
		}

		conns[name] = conn
		names = append(names, name)
	}
	return names, conns
}

// Close releases the session's adapter references, which may trigger
// template-connection GC (spec.md §4.8 "On transport close").
func (s *Session) Close() {
	s.mu.Lock()
	keys := s.released
	s.released = nil
	s.templateConns = nil
	s.mu.Unlock()
	if s.registry == nil {
		return
	}
	for _, k := range keys {
		s.registry.ReleaseTemplate(k)
	}
}

// TrackTemplateKey records a template connection key this session
// acquired, so Close can release it.
func (s *Session) TrackTemplateKey(key string) {
	s.mu.Lock()
	s.released = append(s.released, key)
	s.mu.Unlock()
}

// ReleasedKeys returns the template connection keys this session
// acquired. Close releases them against the TemplateManager itself;
// session.Manager does not call this.
func (s *Session) ReleasedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.released...)
}
