package oauth

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/1mcp-app/agent/internal/log"
)

// maxRefreshRetries bounds how many times Provider retries a refresh
// whose expiry hasn't moved, a backstop against a stuck authorization
// server.
const maxRefreshRetries = 7

// TokenStatus is what Provider needs to know about one upstream's
// current token to decide whether and when to refresh.
type TokenStatus struct {
	Valid        bool
	NeedsRefresh bool
	ExpiresAt    time.Time
}

// StatusFunc and RefreshFunc let Provider stay independent of exactly
// how tokens are stored and refreshed; the Client Manager's OAuth glue
// supplies concrete closures bound to a Store and an oauth2.Config.
type StatusFunc func(ctx context.Context, serverName string) (TokenStatus, error)
type RefreshFunc func(ctx context.Context, serverName string) (*oauth2.Token, error)

// ReloadFunc is invoked after a successful refresh so the Client
// Manager can re-attach the new bearer to the live OutboundConnection.
type ReloadFunc func(ctx context.Context, serverName string) error

// Provider runs one upstream's background token-refresh loop: it waits
// until just before expiry, triggers a refresh, and retries with
// exponential backoff if expiry doesn't move, interruptible via an
// in-process Bus.
type Provider struct {
	name    string
	status  StatusFunc
	refresh RefreshFunc
	reload  ReloadFunc
	bus     *Bus

	lastRefreshExpiry time.Time
	refreshRetryCount int

	stopChan chan struct{}
}

// NewProvider builds a Provider for one upstream.
func NewProvider(name string, status StatusFunc, refresh RefreshFunc, reload ReloadFunc, bus *Bus) *Provider {
	return &Provider{
		name:     name,
		status:   status,
		refresh:  refresh,
		reload:   reload,
		bus:      bus,
		stopChan: make(chan struct{}),
	}
}

// Run starts the provider's background loop; it returns when ctx is
// canceled, Stop is called, the token status cannot be read, or the
// token is unrecoverably stuck.
func (p *Provider) Run(ctx context.Context) {
	events := p.bus.Subscribe(p.name)
	defer p.bus.Unsubscribe(p.name, events)

	log.With("upstream", p.name).Info("oauth provider loop started")
	defer log.With("upstream", p.name).Info("oauth provider loop stopped")

	for {
		status, err := p.status(ctx, p.name)
		if err != nil {
			log.With("upstream", p.name).Warn("unable to read token status", "err", err)
			return
		}

		var wait time.Duration
		var trigger bool

		if status.NeedsRefresh {
			expiryUnchanged := !p.lastRefreshExpiry.IsZero() && status.ExpiresAt.Equal(p.lastRefreshExpiry)
			if expiryUnchanged {
				p.refreshRetryCount++
			} else {
				p.refreshRetryCount = 1
			}
			if p.refreshRetryCount > maxRefreshRetries {
				log.With("upstream", p.name).Warn("token expiry unchanged after max refresh attempts")
				return
			}
			wait = time.Duration(30*(1<<(p.refreshRetryCount-1))) * time.Second
			p.lastRefreshExpiry = status.ExpiresAt
			trigger = true
		} else {
			wait = max(0, time.Until(status.ExpiresAt)-10*time.Second)
		}

		if trigger {
			go p.doRefresh(ctx)
		}

		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case event := <-events:
			timer.Stop()
			if err := p.reload(ctx, p.name); err != nil {
				log.With("upstream", p.name).Warn("reload after oauth event failed", "err", err)
			}
			if event.Type == EventLoginSuccess || event.Type == EventTokenRefresh {
				p.refreshRetryCount = 0
				p.lastRefreshExpiry = time.Time{}
			}
		case <-p.stopChan:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (p *Provider) doRefresh(ctx context.Context) {
	if _, err := p.refresh(ctx, p.name); err != nil {
		log.With("upstream", p.name).Warn("token refresh failed", "err", err)
		p.bus.Publish(Event{Type: EventError, ServerName: p.name, Err: err})
		return
	}
	p.bus.Publish(Event{Type: EventTokenRefresh, ServerName: p.name})
}

// Stop signals the loop to exit.
func (p *Provider) Stop() { close(p.stopChan) }
