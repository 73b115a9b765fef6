package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/log"
	"github.com/1mcp-app/agent/internal/oauth"
	"github.com/1mcp-app/agent/internal/upstream"
)

// authRuntime bundles the OAuth Integration module's outbound pieces
// (spec.md §4.10): one Provider per OAuth-enabled upstream, sharing a
// Store and RefreshCoordinator, wired to the Client Manager through an
// AuthHeaderFunc.
type authRuntime struct {
	store       *oauth.Store
	coordinator *oauth.RefreshCoordinator
	bus         *oauth.Bus
	providers   []*oauth.Provider
}

// buildOAuth wires every OAuth-enabled upstream in initial's config
// into an authRuntime. It returns a nil runtime when no server carries
// an oauth client descriptor, so the caller runs with no bearer attached
// to outbound requests ("OAuth is opt-in per server"); when some server
// does declare oauth but ONE_MCP_ENCRYPTION_KEY isn't set, it returns an
// error instead.
func buildOAuth(configDir string, initial config.OutboundConfig) (*authRuntime, upstream.AuthHeaderFunc, error) {
	configs := make(map[string]*oauth2.Config)
	for name, p := range initial.Servers {
		if p.OAuth == nil {
			continue
		}
		configs[name] = &oauth2.Config{
			ClientID:     p.OAuth.ClientID,
			ClientSecret: p.OAuth.ClientSecret,
			Scopes:       p.OAuth.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  p.OAuth.AuthURL,
				TokenURL: p.OAuth.TokenURL,
			},
		}
	}
	if len(configs) == 0 {
		return nil, nil, nil
	}

	key := os.Getenv("ONE_MCP_ENCRYPTION_KEY")
	if key == "" {
		return nil, nil, fmt.Errorf("servers %v declare oauth but ONE_MCP_ENCRYPTION_KEY is unset", oauthServerNames(configs))
	}

	store, err := oauth.NewStore(configDir, key)
	if err != nil {
		return nil, nil, fmt.Errorf("opening oauth store: %w", err)
	}

	coordinator := oauth.NewRefreshCoordinator(store, configs)
	bus := oauth.NewBus()

	rt := &authRuntime{store: store, coordinator: coordinator, bus: bus}
	for name := range configs {
		serverName := name
		status := func(ctx context.Context, serverName string) (oauth.TokenStatus, error) {
			var token oauth2.Token
			if err := store.Get(oauth.KindToken, serverName, &token); err != nil {
				return oauth.TokenStatus{}, err
			}
			return oauth.TokenStatus{
				Valid:        token.Valid(),
				NeedsRefresh: time.Until(token.Expiry) < time.Minute,
				ExpiresAt:    token.Expiry,
			}, nil
		}
		refresh := func(ctx context.Context, serverName string) (*oauth2.Token, error) {
			if err := coordinator.EnsureValidToken(ctx, serverName); err != nil {
				return nil, err
			}
			var token oauth2.Token
			if err := store.Get(oauth.KindToken, serverName, &token); err != nil {
				return nil, err
			}
			return &token, nil
		}
		reload := func(ctx context.Context, serverName string) error { return nil }
		rt.providers = append(rt.providers, oauth.NewProvider(serverName, status, refresh, reload, bus))
	}

	authHeader := func(serverName string) string {
		var token oauth2.Token
		if err := store.Get(oauth.KindToken, serverName, &token); err != nil {
			return ""
		}
		if token.Expiry.Before(time.Now().Add(time.Minute)) {
			if err := coordinator.EnsureValidToken(context.Background(), serverName); err != nil {
				log.With("upstream", serverName).Warn("oauth token refresh failed", "err", err)
			}
			if err := store.Get(oauth.KindToken, serverName, &token); err != nil {
				return ""
			}
		}
		if token.AccessToken == "" {
			return ""
		}
		return "Bearer " + token.AccessToken
	}

	return rt, authHeader, nil
}

// Run starts every provider's background refresh loop and the store's
// sweeper, blocking until ctx is canceled.
func (rt *authRuntime) Run(ctx context.Context) {
	for _, p := range rt.providers {
		go p.Run(ctx)
	}
	oauth.RunSweeper(ctx, rt.store)
}

func oauthServerNames(configs map[string]*oauth2.Config) []string {
	names := make([]string, 0, len(configs))
	for n := range configs {
		names = append(names, n)
	}
	return names
}
