// Package reload implements the Config Reload Service (spec.md §4.10
// glue): the single consumer that drains the Config Watcher's debounced
// signal, reloads and re-diffs against the Client Manager, and feeds the
// resulting ReloadDiff to Notification Fanout.
package reload

import (
	"context"

	"github.com/1mcp-app/agent/internal/aggregator"
	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/log"
	"github.com/1mcp-app/agent/internal/mcptag"
	"github.com/1mcp-app/agent/internal/upstream"
)

// PresetStore is the subset of mcptag.MemoryStore the reload service
// needs to keep presets current across reloads.
type PresetStore interface {
	Replace(presets map[string]mcptag.Filter)
}

// Service serializes reloads by construction: Run is the sole consumer
// of watcher.Changes(), so two reloads never run concurrently.
type Service struct {
	path    string
	watcher *config.Watcher
	manager *upstream.Manager
	fanout  *aggregator.Fanout
	presets PresetStore
}

// New builds a Service. Call Reload once at startup for the initial
// load, then Run in its own goroutine to serve subsequent changes.
func New(path string, watcher *config.Watcher, manager *upstream.Manager, fanout *aggregator.Fanout) *Service {
	return &Service{path: path, watcher: watcher, manager: manager, fanout: fanout}
}

// WithPresets attaches the preset store to keep in sync with the
// config file's `presets` block on every reload.
func (s *Service) WithPresets(presets PresetStore) *Service {
	s.presets = presets
	return s
}

// Reload performs one load+diff+fanout cycle. A load failure (invalid
// config, duplicate names, unknown fields) is logged and returned
// without touching the Client Manager — the previous config keeps
// running, matching spec.md §4.2's "last known good" stance.
func (s *Service) Reload(ctx context.Context) error {
	oldTags := tagsOf(s.manager.Snapshot())

	next, err := config.Load(s.path)
	if err != nil {
		log.Logf("config reload: load failed, keeping previous config: %v", err)
		return err
	}

	if s.presets != nil {
		s.presets.Replace(mcptag.PresetsFromTagLists(next.Presets))
	}

	diff := s.manager.ApplyReload(ctx, next)
	if len(diff.Changes) == 0 {
		return nil
	}

	newTags := tagsOf(s.manager.Snapshot())
	changedTags := make(map[string]map[string]bool, len(diff.Changes))
	for name := range diff.Changes {
		if tags, ok := newTags[name]; ok {
			changedTags[name] = tags
			continue
		}
		if tags, ok := oldTags[name]; ok {
			changedTags[name] = tags
		}
	}

	if s.fanout != nil {
		s.fanout.NotifyReloadDiff(diff.Names(), changedTags)
	}
	return nil
}

// Run drains watcher.Changes() until ctx is done, reloading serially on
// each debounced signal.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.watcher.Changes():
			_ = s.Reload(ctx)
		}
	}
}

func tagsOf(conns map[string]*upstream.OutboundConnection) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(conns))
	for name, c := range conns {
		out[name] = c.Params().TagSet()
	}
	return out
}
