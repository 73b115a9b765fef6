package oauth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/1mcp-app/agent/internal/log"
)

// RefreshCoordinator deduplicates concurrent refresh attempts for the
// same upstream: multiple inbound requests racing a near-expiry token
// trigger at most one in-flight refresh, the rest wait on it, using a
// direct oauth2.TokenSource refresh.
type RefreshCoordinator struct {
	mu       sync.Mutex
	inFlight map[string]chan struct{}

	store   *Store
	configs map[string]*oauth2.Config
}

// NewRefreshCoordinator builds a RefreshCoordinator backed by store for
// token persistence; configs supplies each upstream's OAuth2 client
// config (endpoint, client id, scopes).
func NewRefreshCoordinator(store *Store, configs map[string]*oauth2.Config) *RefreshCoordinator {
	return &RefreshCoordinator{
		inFlight: make(map[string]chan struct{}),
		store:    store,
		configs:  configs,
	}
}

// EnsureValidToken refreshes serverName's stored token if it's expired
// or near expiry (a missing or unreadable token is returned as an
// error), blocking the caller only until a refresh already in flight
// for the same server completes (spec.md §4.10: "retried once" on a
// transport 401 is the caller's use of this after a failed call).
func (c *RefreshCoordinator) EnsureValidToken(ctx context.Context, serverName string) error {
	c.mu.Lock()
	if done, inFlight := c.inFlight[serverName]; inFlight {
		c.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	c.inFlight[serverName] = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, serverName)
		c.mu.Unlock()
		close(done)
	}()

	cfg, ok := c.configs[serverName]
	if !ok {
		return fmt.Errorf("oauth: no client config registered for %q", serverName)
	}

	var token oauth2.Token
	if err := c.store.Get(KindToken, serverName, &token); err != nil {
		return fmt.Errorf("retrieving token for %s: %w", serverName, err)
	}

	refreshed, err := cfg.TokenSource(ctx, &token).Token()
	if err != nil {
		return fmt.Errorf("refreshing token for %s: %w", serverName, err)
	}

	if err := c.store.Put(KindToken, serverName, refreshed); err != nil {
		return fmt.Errorf("saving refreshed token for %s: %w", serverName, err)
	}

	log.With("upstream", serverName).Info("oauth token refreshed")
	return nil
}
