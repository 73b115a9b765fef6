package aggregator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/1mcp-app/agent/internal/errs"
	"github.com/1mcp-app/agent/internal/log"
	"github.com/1mcp-app/agent/internal/upstream"
)

var errNoUpstreamAcceptedLevel = errs.New(errs.UpstreamUnavailable, "aggregator.SetLevel", fmt.Errorf("no upstream accepted the log level"))

func atomicIncr(v *int32) { atomic.AddInt32(v, 1) }

// FanoutTimeout is the per-upstream deadline the Capability Aggregator
// applies to each fan-out call (spec.md §4.7 step 2).
const FanoutTimeout = 30 * time.Second

// ToolEntry, ResourceEntry, PromptEntry and ResourceTemplateEntry carry
// one upstream's capability alongside the origin needed to both
// namespace it (spec.md §4.7 step 3) and route an invocation back to
// it (step 4 of the same section).
type ToolEntry struct {
	Upstream string
	Original string
	Tool     *mcp.Tool
}

type ResourceEntry struct {
	Upstream string
	Original string
	Resource *mcp.Resource
}

type PromptEntry struct {
	Upstream string
	Original string
	Prompt   *mcp.Prompt
}

type ResourceTemplateEntry struct {
	Upstream string
	Original string
	Template *mcp.ResourceTemplate
}

// candidates resolves live, Connected clients for names, skipping any
// upstream that is absent or not yet connected — a disconnected
// upstream is simply omitted from the union, not an aggregation error.
func candidates(conns map[string]*upstream.OutboundConnection, names []string) map[string]*upstream.Client {
	out := make(map[string]*upstream.Client, len(names))
	for _, n := range names {
		c, ok := conns[n]
		if !ok {
			continue
		}
		if c.Status().Status != upstream.StatusConnected {
			continue
		}
		if cl := c.Client(); cl != nil {
			out[n] = cl
		}
	}
	return out
}

// ListTools fans out tools/list to every candidate upstream, namespaces
// the results, and returns them deduplicated and ordered by
// (upstream, original) per spec.md §4.7 step 4.
func ListTools(ctx context.Context, conns map[string]*upstream.OutboundConnection, names []string) ([]ToolEntry, error) {
	clients := candidates(conns, names)
	var mu sync.Mutex
	var entries []ToolEntry

	g, gctx := errgroup.WithContext(ctx)
	for name, cl := range clients {
		name, cl := name, cl
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, FanoutTimeout)
			defer cancel()
			res, err := cl.ListTools(callCtx, "")
			if err != nil {
				log.With("upstream", name).Warn("tools/list failed", "err", err)
				return nil
			}
			seen := make(map[string]bool, len(res.Tools))
			mu.Lock()
			for _, t := range res.Tools {
				if seen[t.Name] {
					log.With("upstream", name).Warn("duplicate tool name", "tool", t.Name)
					continue
				}
				seen[t.Name] = true
				qualified := *t
				qualified.Name = Qualify(name, t.Name)
				entries = append(entries, ToolEntry{Upstream: name, Original: t.Name, Tool: &qualified})
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Upstream != entries[j].Upstream {
			return entries[i].Upstream < entries[j].Upstream
		}
		return entries[i].Original < entries[j].Original
	})
	return entries, nil
}

// ListPrompts mirrors ListTools for prompts/list.
func ListPrompts(ctx context.Context, conns map[string]*upstream.OutboundConnection, names []string) ([]PromptEntry, error) {
	clients := candidates(conns, names)
	var mu sync.Mutex
	var entries []PromptEntry

	g, gctx := errgroup.WithContext(ctx)
	for name, cl := range clients {
		name, cl := name, cl
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, FanoutTimeout)
			defer cancel()
			res, err := cl.ListPrompts(callCtx, "")
			if err != nil {
				log.With("upstream", name).Warn("prompts/list failed", "err", err)
				return nil
			}
			seen := make(map[string]bool, len(res.Prompts))
			mu.Lock()
			for _, p := range res.Prompts {
				if seen[p.Name] {
					continue
				}
				seen[p.Name] = true
				qualified := *p
				qualified.Name = Qualify(name, p.Name)
				entries = append(entries, PromptEntry{Upstream: name, Original: p.Name, Prompt: &qualified})
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Upstream != entries[j].Upstream {
			return entries[i].Upstream < entries[j].Upstream
		}
		return entries[i].Original < entries[j].Original
	})
	return entries, nil
}

// ListResources mirrors ListTools for resources/list, additionally
// rewriting URI per spec.md §4.7 step 3.
func ListResources(ctx context.Context, conns map[string]*upstream.OutboundConnection, names []string) ([]ResourceEntry, error) {
	clients := candidates(conns, names)
	var mu sync.Mutex
	var entries []ResourceEntry

	g, gctx := errgroup.WithContext(ctx)
	for name, cl := range clients {
		name, cl := name, cl
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, FanoutTimeout)
			defer cancel()
			res, err := cl.ListResources(callCtx, "")
			if err != nil {
				log.With("upstream", name).Warn("resources/list failed", "err", err)
				return nil
			}
			seen := make(map[string]bool, len(res.Resources))
			mu.Lock()
			for _, r := range res.Resources {
				if seen[r.URI] {
					continue
				}
				seen[r.URI] = true
				qualified := *r
				qualified.URI = QualifyURI(name, r.URI)
				entries = append(entries, ResourceEntry{Upstream: name, Original: r.URI, Resource: &qualified})
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Upstream != entries[j].Upstream {
			return entries[i].Upstream < entries[j].Upstream
		}
		return entries[i].Original < entries[j].Original
	})
	return entries, nil
}

// ListResourceTemplates mirrors ListResources for
// resources/templates/list.
func ListResourceTemplates(ctx context.Context, conns map[string]*upstream.OutboundConnection, names []string) ([]ResourceTemplateEntry, error) {
	clients := candidates(conns, names)
	var mu sync.Mutex
	var entries []ResourceTemplateEntry

	g, gctx := errgroup.WithContext(ctx)
	for name, cl := range clients {
		name, cl := name, cl
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, FanoutTimeout)
			defer cancel()
			res, err := cl.ListResourceTemplates(callCtx, "")
			if err != nil {
				log.With("upstream", name).Warn("resources/templates/list failed", "err", err)
				return nil
			}
			mu.Lock()
			for _, t := range res.ResourceTemplates {
				qualified := *t
				qualified.URITemplate = QualifyURI(name, t.URITemplate)
				entries = append(entries, ResourceTemplateEntry{Upstream: name, Original: t.URITemplate, Template: &qualified})
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Upstream != entries[j].Upstream {
			return entries[i].Upstream < entries[j].Upstream
		}
		return entries[i].Original < entries[j].Original
	})
	return entries, nil
}

// SetLevel broadcasts logging/setLevel to every candidate upstream,
// succeeding if at least one accepts it (spec.md §4.7 "logging/setLevel").
func SetLevel(ctx context.Context, conns map[string]*upstream.OutboundConnection, names []string, level mcp.LoggingLevel) error {
	clients := candidates(conns, names)
	g, gctx := errgroup.WithContext(ctx)
	var okCount int32
	for name, cl := range clients {
		name, cl := name, cl
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, FanoutTimeout)
			defer cancel()
			if err := cl.SetLevel(callCtx, level); err != nil {
				log.With("upstream", name).Warn("logging/setLevel failed", "err", err)
				return nil
			}
			atomicIncr(&okCount)
			return nil
		})
	}
	_ = g.Wait()
	if okCount == 0 && len(clients) > 0 {
		return errNoUpstreamAcceptedLevel
	}
	return nil
}
