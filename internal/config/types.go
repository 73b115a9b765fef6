// Package config implements the Config Loader and Config Watcher
// (spec.md §4.1, §4.2): parsing mcp.json plus .1mcprc overlays into
// immutable OutboundConfig snapshots, and watching the config directory
// for debounced reloads.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// TransportKind is one of the three upstream transport flavors spec.md
// §1 names.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportSSE   TransportKind = "sse"
	TransportHTTP  TransportKind = "http"
)

// OAuthClient describes the OAuth client descriptor attached to a
// ServerParams, per spec.md §3.
type OAuthClient struct {
	ClientID     string   `json:"clientId,omitempty" validate:"required_with=AuthURL"`
	ClientSecret string   `json:"clientSecret,omitempty"`
	AuthURL      string   `json:"authUrl,omitempty"`
	TokenURL     string   `json:"tokenUrl,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// ServerParams is one upstream's immutable, structurally-comparable
// configuration (spec.md §3).
type ServerParams struct {
	Name     string            `json:"-"`
	Kind     TransportKind     `json:"type,omitempty" validate:"oneof=stdio sse http"`
	Command  string            `json:"command,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Cwd      string            `json:"cwd,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	URL      string            `json:"url,omitempty" validate:"required_without=Command"`
	Headers  map[string]string `json:"headers,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
	OAuth    *OAuthClient      `json:"oauth,omitempty"`
	Template bool              `json:"-"`
}

// inferKind fills Kind from the presence of Command/URL when the type
// field was omitted, per spec.md §6: "default stdio if command present,
// http if url present".
func (p *ServerParams) inferKind() {
	if p.Kind != "" {
		return
	}
	if p.Command != "" {
		p.Kind = TransportStdio
	} else if p.URL != "" {
		p.Kind = TransportHTTP
	}
}

// TagSet returns the server's tags as a lookup set.
func (p ServerParams) TagSet() map[string]bool {
	set := make(map[string]bool, len(p.Tags))
	for _, t := range p.Tags {
		set[t] = true
	}
	return set
}

// Equal reports structural equality, the basis for the Client Manager's
// "any field change forces restart" invariant (spec.md §3).
func (p ServerParams) Equal(o ServerParams) bool {
	pb, _ := canonicalJSON(p)
	ob, _ := canonicalJSON(o)
	return string(pb) == string(ob)
}

// Hash returns a stable fingerprint of the rendered params, used by the
// template adapter (spec.md §4.6) as the shared-connection key.
func (p ServerParams) Hash() string {
	b, _ := canonicalJSON(p)
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}

func canonicalJSON(p ServerParams) ([]byte, error) {
	// Re-marshal through a map so key order (and therefore byte output)
	// is stable regardless of struct field order.
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]byte, 0, len(raw))
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(m[k])
		ordered = append(ordered, kb...)
		ordered = append(ordered, ':')
		ordered = append(ordered, vb...)
	}
	ordered = append(ordered, '}')
	return ordered, nil
}

// OutboundConfig is an immutable snapshot of the configured upstream
// set (spec.md §3). Reload produces a new snapshot; existing readers
// keep their copy.
type OutboundConfig struct {
	Servers        map[string]ServerParams
	Templates      map[string]ServerParams
	Presets        map[string][]string
	VersionCounter int
}

// ServerNames returns the configured (non-template) upstream names.
func (c OutboundConfig) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for n := range c.Servers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Find looks up a server or template by name.
func (c OutboundConfig) Find(name string) (ServerParams, bool) {
	if p, ok := c.Servers[name]; ok {
		return p, true
	}
	if p, ok := c.Templates[name]; ok {
		return p, true
	}
	return ServerParams{}, false
}
