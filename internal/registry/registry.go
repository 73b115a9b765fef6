// Package registry implements the Server Registry & Adapters (spec.md
// §4.6): a uniform lookup over static "external" upstreams and
// per-session "template" upstreams rendered from session context.
package registry

import (
	"context"

	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/upstream"
)

// Adapter abstracts the two upstream kinds behind one capability set.
type Adapter interface {
	// ResolveConnection returns the live connection for this adapter in
	// the given session context, creating it on first use for template
	// adapters.
	ResolveConnection(ctx context.Context) (*upstream.OutboundConnection, error)
	// Status reports the resolved connection's status, or Disconnected
	// if none has been resolved yet.
	Status(ctx context.Context) upstream.StatusRecord
	// ConnectionKey returns the identity under which the underlying
	// connection is shared; stable for External, rendering-dependent for
	// Template.
	ConnectionKey(ctx context.Context) string
}

// Registry is the uniform entry point sessions use to reach either
// server kind by name.
type Registry struct {
	manager   *upstream.Manager
	templates *TemplateManager
}

// New builds a Registry backed by manager for external servers and tm
// for template servers.
func New(manager *upstream.Manager, tm *TemplateManager) *Registry {
	return &Registry{manager: manager, templates: tm}
}

// Resolve returns the Adapter for name, trying the static server set
// first and falling back to the template set (spec.md §4.6 treats them
// as disjoint namespaces in practice, but a registry lookup should not
// assume the caller already knows which).
func (r *Registry) Resolve(name string, sessionCtx map[string]any) (Adapter, bool) {
	if _, ok := r.manager.Get(name); ok {
		return &ExternalAdapter{manager: r.manager, name: name}, true
	}
	if params, ok := r.templates.Lookup(name); ok {
		return &TemplateAdapter{tm: r.templates, base: params, sessionCtx: sessionCtx}, true
	}
	return nil, false
}

// TemplateNames returns every configured template name.
func (r *Registry) TemplateNames() []string { return r.templates.Names() }

// TemplateParams returns the named template's base (unrendered) params,
// the shape admission checks run against before a session renders it.
func (r *Registry) TemplateParams(name string) (config.ServerParams, bool) {
	return r.templates.Lookup(name)
}

// ReleaseTemplate drops one session's reference to the rendered
// connection identified by key, per spec.md §4.8 "On transport close".
func (r *Registry) ReleaseTemplate(key string) {
	r.templates.Release(key)
}

// ExternalAdapter resolves to the single shared connection identified
// by name; session context is ignored.
type ExternalAdapter struct {
	manager *upstream.Manager
	name    string
}

func (a *ExternalAdapter) ResolveConnection(context.Context) (*upstream.OutboundConnection, error) {
	c, _ := a.manager.Get(a.name)
	return c, nil
}

func (a *ExternalAdapter) Status(context.Context) upstream.StatusRecord {
	if c, ok := a.manager.Get(a.name); ok {
		return c.Status()
	}
	return upstream.StatusRecord{Status: upstream.StatusDisconnected}
}

func (a *ExternalAdapter) ConnectionKey(context.Context) string { return a.name }

// TemplateAdapter renders base against sessionCtx and resolves to the
// (possibly shared) rendered connection.
type TemplateAdapter struct {
	tm         *TemplateManager
	base       config.ServerParams
	sessionCtx map[string]any
}

func (a *TemplateAdapter) ResolveConnection(ctx context.Context) (*upstream.OutboundConnection, error) {
	return a.tm.Acquire(ctx, a.base, a.sessionCtx)
}

func (a *TemplateAdapter) Status(ctx context.Context) upstream.StatusRecord {
	rendered, err := Render(a.base, a.sessionCtx)
	if err != nil {
		return upstream.StatusRecord{Status: upstream.StatusError, LastError: err}
	}
	if c, ok := a.tm.peek(rendered.Hash()); ok {
		return c.Status()
	}
	return upstream.StatusRecord{Status: upstream.StatusDisconnected}
}

func (a *TemplateAdapter) ConnectionKey(context.Context) string {
	rendered, err := Render(a.base, a.sessionCtx)
	if err != nil {
		return ""
	}
	return rendered.Hash()
}
