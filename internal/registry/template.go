package registry

import (
	"fmt"
	"regexp"

	"github.com/PaesslerAG/jsonpath"

	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/errs"
)

var templateVar = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// Render substitutes every `{{a.b.c}}` dotted path in p's string fields
// against sessionCtx (spec.md §4.6). Missing paths render as empty
// string; this implements only the observed subset (no block helpers,
// no filters).
func Render(p config.ServerParams, sessionCtx map[string]any) (config.ServerParams, error) {
	out := p
	var err error
	if out.Command, err = renderString(p.Command, sessionCtx); err != nil {
		return config.ServerParams{}, err
	}
	if out.URL, err = renderString(p.URL, sessionCtx); err != nil {
		return config.ServerParams{}, err
	}
	if out.Cwd, err = renderString(p.Cwd, sessionCtx); err != nil {
		return config.ServerParams{}, err
	}
	if out.Args, err = renderSlice(p.Args, sessionCtx); err != nil {
		return config.ServerParams{}, err
	}
	if out.Env, err = renderMap(p.Env, sessionCtx); err != nil {
		return config.ServerParams{}, err
	}
	if out.Headers, err = renderMap(p.Headers, sessionCtx); err != nil {
		return config.ServerParams{}, err
	}
	out.Template = false
	return out, nil
}

func renderString(s string, data map[string]any) (string, error) {
	if s == "" {
		return s, nil
	}
	result := templateVar.ReplaceAllStringFunc(s, func(match string) string {
		path := templateVar.FindStringSubmatch(match)[1]
		v, err := lookupPath(path, data)
		if err != nil {
			// Missing path renders empty, per spec.md §4.6 ("missing =
			// empty string"); a malformed path also renders empty, so
			// renderString never returns an error.
			return ""
		}
		return fmt.Sprint(v)
	})
	return result, nil
}

func lookupPath(path string, data map[string]any) (any, error) {
	v, err := jsonpath.Get("$."+path, map[string]any(data))
	if err != nil {
		return "", errs.New(errs.InvalidRequest, "registry.lookupPath", err)
	}
	return v, nil
}

func renderSlice(ss []string, data map[string]any) ([]string, error) {
	if ss == nil {
		return nil, nil
	}
	out := make([]string, len(ss))
	for i, s := range ss {
		r, err := renderString(s, data)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func renderMap(m map[string]string, data map[string]any) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		r, err := renderString(v, data)
		if err != nil {
			return nil, err
		}
		out[k] = r
	}
	return out, nil
}
