package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/1mcp-app/agent/internal/log"
	"github.com/1mcp-app/agent/internal/mcptag"
)

// CoalesceWindow is the per-session debounce window spec.md §4.9
// specifies for Notification Fanout.
const CoalesceWindow = 50 * time.Millisecond

// NotifiableSession is the minimal session contract Fanout needs: a
// TagFilter to decide admission, and Refresh to recompute and
// re-register the session's capability view. The Session type's Refresh
// removes everything previously registered on the session's inbound
// mcp.Server and re-adds the full new view via RemoveTools/AddTool (and
// the resource/prompt equivalents); the SDK then emits the
// notifications/*/list_changed notifications on its own. The Session
// Manager's real session type satisfies this directly.
type NotifiableSession interface {
	ID() string
	Filter() mcptag.Filter
	Refresh(ctx context.Context)
}

// Registry supplies Fanout with the live session set and the preset
// store needed to resolve TagFilter(preset(...)) filters.
type Registry interface {
	LiveSessions() []NotifiableSession
	PresetStore() mcptag.Store
}

// Fanout recomputes, for every live session, whether a changed upstream
// is in that session's filter scope and triggers a capability refresh —
// coalescing repeats within CoalesceWindow into a single Refresh call
// per session.
type Fanout struct {
	registry Registry

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewFanout builds a Fanout reading live sessions from registry.
func NewFanout(registry Registry) *Fanout {
	return &Fanout{registry: registry, pending: make(map[string]*time.Timer)}
}

// NotifyUpstreamChanged handles case (i) of spec.md §4.9: an upstream
// list_changed notification for capability kind on server upstreamName,
// whose current tag set is tags. kind is accepted for logging/future
// use; a refresh recomputes every capability kind together since they
// share one view.
func (f *Fanout) NotifyUpstreamChanged(upstreamName, kind string, tags map[string]bool) {
	f.fanoutTo(func(s NotifiableSession) bool {
		admits, err := s.Filter().Admits(tags, f.registry.PresetStore())
		return err == nil && admits
	})
}

// NotifyReloadDiff handles case (ii): a ReloadDiff whose changed set
// touches one or more upstreams.
func (f *Fanout) NotifyReloadDiff(changedUpstreams []string, changedTags map[string]map[string]bool) {
	f.fanoutTo(func(s NotifiableSession) bool {
		for _, u := range changedUpstreams {
			tags := changedTags[u]
			admits, err := s.Filter().Admits(tags, f.registry.PresetStore())
			if err == nil && admits {
				return true
			}
		}
		return false
	})
}

func (f *Fanout) fanoutTo(admits func(NotifiableSession) bool) {
	for _, s := range f.registry.LiveSessions() {
		if !admits(s) {
			continue
		}
		f.schedule(s)
	}
}

func (f *Fanout) schedule(s NotifiableSession) {
	key := s.ID()

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, pending := f.pending[key]; pending {
		return // already coalesced into a pending fire
	}
	f.pending[key] = time.AfterFunc(CoalesceWindow, func() {
		f.mu.Lock()
		delete(f.pending, key)
		f.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				log.Logf("capability refresh for session %s panicked: %v", s.ID(), r)
			}
		}()
		s.Refresh(context.Background())
	})
}
