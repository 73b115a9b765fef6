package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	validatorpkg "github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/1mcp-app/agent/internal/errs"
)

// rawFile mirrors the on-disk mcp.json layout (spec.md §6): a flat map
// of server name to params, split into two buckets by the presence of
// path template markers in Command/Args/URL.
type rawFile struct {
	MCPServers map[string]*rawServer `json:"mcpServers"`
	Presets    map[string][]string   `json:"presets,omitempty"`
}

type rawServer struct {
	Type     string            `json:"type,omitempty"`
	Command  string            `json:"command,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Cwd      string            `json:"cwd,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	URL      string            `json:"url,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
	OAuth    *OAuthClient      `json:"oauth,omitempty"`
}

var validate = validatorpkg.New(validatorpkg.WithRequiredStructEnabled())

var templateRef = regexp.MustCompile(`\{\{\s*[\w.]+\s*\}\}`)

// Load reads path (mcp.json), applies any sibling .1mcprc YAML overlay,
// expands environment placeholders, validates the result, and returns
// an immutable snapshot. It is the Config Loader of spec.md §4.1.
func Load(path string) (OutboundConfig, error) {
	raw, err := loadRawMerged(path)
	if err != nil {
		return OutboundConfig{}, err
	}

	cfg := OutboundConfig{
		Servers:   make(map[string]ServerParams),
		Templates: make(map[string]ServerParams),
		Presets:   raw.Presets,
	}

	seen := make(map[string]bool, len(raw.MCPServers))
	for name, rs := range raw.MCPServers {
		lower := strings.ToLower(name)
		if seen[lower] {
			return OutboundConfig{}, errs.New(errs.InvalidConfig, "config.Load",
				fmt.Errorf("duplicate server name %q (case-insensitive)", name))
		}
		seen[lower] = true

		p := ServerParams{
			Name:     name,
			Kind:     TransportKind(rs.Type),
			Command:  expandEnv(rs.Command),
			Args:     expandEnvSlice(rs.Args),
			Cwd:      expandEnv(rs.Cwd),
			Env:      expandEnvMap(rs.Env),
			URL:      expandEnv(rs.URL),
			Headers:  expandEnvMap(rs.Headers),
			Tags:     rs.Tags,
			Disabled: rs.Disabled,
			OAuth:    rs.OAuth,
		}
		p.inferKind()

		if err := validate.Struct(p); err != nil {
			return OutboundConfig{}, errs.New(errs.InvalidConfig, "config.Load",
				fmt.Errorf("server %q: %w", name, err))
		}

		if isTemplate(rs) {
			p.Template = true
			cfg.Templates[name] = p
		} else {
			cfg.Servers[name] = p
		}
	}

	return cfg, nil
}

// isTemplate reports whether a server entry contains {{path.like.this}}
// substitution markers, making it a template upstream (spec.md §4.6)
// rather than a static one.
func isTemplate(rs *rawServer) bool {
	if templateRef.MatchString(rs.Command) || templateRef.MatchString(rs.URL) {
		return true
	}
	for _, a := range rs.Args {
		if templateRef.MatchString(a) {
			return true
		}
	}
	for _, v := range rs.Headers {
		if templateRef.MatchString(v) {
			return true
		}
	}
	return false
}

// loadRawMerged decodes the primary config file with DisallowUnknownFields,
// then merges in a sibling .1mcprc YAML overlay (decoded by loadOverlay
// with yaml.v3) when present.
func loadRawMerged(path string) (*rawFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.InvalidConfig, "config.Load", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	var raw rawFile
	if err := dec.Decode(&raw); err != nil {
		return nil, errs.New(errs.InvalidConfig, "config.Load", err)
	}
	if raw.MCPServers == nil {
		raw.MCPServers = map[string]*rawServer{}
	}

	overlayPath := filepath.Join(filepath.Dir(path), ".1mcprc")
	overlay, err := loadOverlay(overlayPath)
	if err != nil {
		return nil, err
	}
	for name, patch := range overlay {
		if existing, ok := raw.MCPServers[name]; ok {
			mergeServer(existing, patch)
		} else {
			raw.MCPServers[name] = patch
		}
	}
	return &raw, nil
}

// loadOverlay parses a .1mcprc YAML file into the same rawServer shape,
// used to apply per-machine tweaks (extra tags, disabled flags) without
// editing the checked-in mcp.json. Absent file is not an error.
//
// The overlay is plain YAML decoded with yaml.v3; the mikefarah/yq
// expression engine is reserved for the `1mcp config get` inspection
// command (cmd/1mcp/config.go), which runs user-supplied yq expressions
// against the raw config file; the overlay is not applied there.
func loadOverlay(path string) (map[string]*rawServer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.New(errs.InvalidConfig, "config.loadOverlay", err)
	}

	var overlay map[string]*rawServer
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, errs.New(errs.InvalidConfig, "config.loadOverlay", err)
	}
	return overlay, nil
}

func mergeServer(base, patch *rawServer) {
	if patch.Type != "" {
		base.Type = patch.Type
	}
	if patch.Command != "" {
		base.Command = patch.Command
	}
	if patch.Args != nil {
		base.Args = patch.Args
	}
	if patch.Cwd != "" {
		base.Cwd = patch.Cwd
	}
	for k, v := range patch.Env {
		if base.Env == nil {
			base.Env = map[string]string{}
		}
		base.Env[k] = v
	}
	if patch.URL != "" {
		base.URL = patch.URL
	}
	for k, v := range patch.Headers {
		if base.Headers == nil {
			base.Headers = map[string]string{}
		}
		base.Headers[k] = v
	}
	if patch.Tags != nil {
		base.Tags = append(base.Tags, patch.Tags...)
	}
	base.Disabled = base.Disabled || patch.Disabled
	if patch.OAuth != nil {
		base.OAuth = patch.OAuth
	}
}

// expandEnv resolves ${VAR} and ${VAR:-default} placeholders, the
// placeholder syntax spec.md §6 specifies for mcp.json values.
func expandEnv(s string) string {
	if s == "" || !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, lookupWithDefault)
}

func expandEnvSlice(ss []string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = expandEnv(s)
	}
	return out
}

func expandEnvMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = expandEnv(v)
	}
	return out
}

// lookupWithDefault implements os.Expand's mapping function for the
// ${VAR:-default} form; os.Expand itself only understands bare ${VAR}.
func lookupWithDefault(token string) string {
	name, def, hasDefault := token, "", false
	if idx := strings.Index(token, ":-"); idx >= 0 {
		name, def, hasDefault = token[:idx], token[idx+2:], true
	}
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	if hasDefault {
		return def
	}
	return ""
}
