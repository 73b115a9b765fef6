package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/1mcp-app/agent/internal/aggregator"
	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/health"
	"github.com/1mcp-app/agent/internal/log"
	"github.com/1mcp-app/agent/internal/mcptag"
	"github.com/1mcp-app/agent/internal/oauth"
	"github.com/1mcp-app/agent/internal/registry"
	"github.com/1mcp-app/agent/internal/reload"
	"github.com/1mcp-app/agent/internal/session"
	"github.com/1mcp-app/agent/internal/store"
	"github.com/1mcp-app/agent/internal/upstream"
)

// serverImplementation identifies the aggregator to every downstream
// client during initialize.
var serverImplementation = &mcp.Implementation{
	Name:    "1mcp-agent",
	Version: "0.1.0",
}

type runOptions struct {
	configPath string
	transport  string
	addr       string
	dbPath     string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the aggregator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAggregator(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", configPathFromEnv(), "path to mcp.json")
	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "inbound transport: stdio, sse, or streamable")
	cmd.Flags().StringVar(&opts.addr, "addr", ":3000", "listen address for sse/streamable transports")
	cmd.Flags().StringVar(&opts.dbPath, "events-db", "", "path to the connection event log sqlite file (empty disables it)")
	return cmd
}

func configPathFromEnv() string {
	if p := os.Getenv("ONE_MCP_CONFIG"); p != "" {
		return p
	}
	if dir := os.Getenv("ONE_MCP_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "mcp.json")
	}
	return "mcp.json"
}

func runAggregator(ctx context.Context, opts *runOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	initial, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading initial config: %w", err)
	}

	var events *store.Store
	if opts.dbPath != "" {
		events, err = store.Open(opts.dbPath)
		if err != nil {
			return fmt.Errorf("opening connection event log: %w", err)
		}
		defer events.Close()
	}

	configDir := filepath.Dir(opts.configPath)
	authRT, authHeader, err := buildOAuth(configDir, initial)
	if err != nil {
		return fmt.Errorf("configuring oauth: %w", err)
	}

	presets := mcptag.NewMemoryStore(mcptag.PresetsFromTagLists(initial.Presets))
	sessions := session.NewManager(presets)
	fanout := aggregator.NewFanout(sessions)

	manager := upstream.NewManager(authHeader, func(serverName, kind string, tags map[string]bool) {
		fanout.NotifyUpstreamChanged(serverName, kind, tags)
	})
	if events != nil {
		manager = manager.WithTransitionSink(func(serverName string, from, to upstream.Status, detail string) {
			if err := events.RecordTransition(context.Background(), serverName, string(from), string(to), detail); err != nil {
				log.With("upstream", serverName).Warn("recording connection event failed", "err", err)
			}
		})
	}
	manager.ApplyReload(ctx, initial)

	templates := registry.NewTemplateManager(initial.Templates, func(ctx context.Context, p config.ServerParams) (*upstream.OutboundConnection, error) {
		return dialTemplate(ctx, manager, p)
	})
	defer templates.Close()
	reg := registry.New(manager, templates)

	watcher, err := config.NewWatcher(opts.configPath)
	if err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	defer watcher.Close()

	reloadSvc := reload.New(opts.configPath, watcher, manager, fanout).WithPresets(presets)
	go reloadSvc.Run(ctx)

	if authRT != nil {
		go authRT.Run(ctx)
	}

	healthState := health.New(manager, events)
	newServerForSession := func(meta session.Metadata) (*mcp.Server, *session.Session) {
		s := session.New(meta, reg, manager, presets)
		srv := mcp.NewServer(serverImplementation, &mcp.ServerOptions{
			HasTools:     true,
			HasPrompts:   true,
			HasResources: true,
			CompletionHandler: func(ctx context.Context, req *mcp.CompleteRequest) (*mcp.CompleteResult, error) {
				if req.Params == nil || req.Params.Ref == nil {
					return nil, fmt.Errorf("completion/complete: missing ref")
				}
				qualified := req.Params.Ref.Name
				if qualified == "" {
					qualified = req.Params.Ref.URI
				}
				allowed := aggregator.AdmittedSet(s.AllowedUpstreams())
				return aggregator.Complete(ctx, qualified, req.Params, s.Conns(), allowed)
			},
			SetLevelHandler: func(ctx context.Context, req *mcp.SetLoggingLevelRequest) error {
				if req.Params == nil {
					return fmt.Errorf("logging/setLevel: missing params")
				}
				return aggregator.SetLevel(ctx, s.Conns(), s.AllowedUpstreams(), req.Params.Level)
			},
		})
		if authRT != nil {
			srv.AddReceivingMiddleware(oauth.AuthMiddleware())
		}
		sessions.Register(s)
		return srv, s
	}

	switch opts.transport {
	case "stdio":
		srv, s := newServerForSession(session.Metadata{})
		defer sessions.Unregister(s)
		s.AttachServer(ctx, srv, nil)
		return srv.Run(ctx, &mcp.StdioTransport{})

	case "sse", "streamable":
		return serveHTTP(ctx, opts, newServerForSession, sessions, healthState, authRT)

	default:
		return fmt.Errorf("unknown transport %q, expected stdio, sse, or streamable", opts.transport)
	}
}

func serveHTTP(ctx context.Context, opts *runOptions, newServerForSession func(session.Metadata) (*mcp.Server, *session.Session), sessions *session.Manager, healthState *health.State, authRT *authRuntime) error {
	mux := http.NewServeMux()
	mux.Handle("/health", health.Handler(healthState, sessions))

	factory := func(r *http.Request) *mcp.Server {
		srv, s := newServerForSession(metadataFromRequest(r))
		// Refresh only reads the *mcp.Server itself (never the
		// ServerSession), so the initial capability registration can
		// happen here, before the SDK completes the handshake on srv.
		s.AttachServer(r.Context(), srv, nil)
		return srv
	}

	var handler http.Handler
	if opts.transport == "sse" {
		handler = mcp.NewSSEHandler(factory, nil)
	} else {
		handler = mcp.NewStreamableHTTPHandler(factory, nil)
	}
	if authRT != nil {
		handler = requireBearer(authRT, handler)
	}

	if opts.transport == "sse" {
		mux.Handle("/sse", handler)
	} else {
		mux.Handle("/mcp", handler)
	}

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", opts.addr, err)
	}
	httpServer := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	log.Logf("1mcp: listening on %s (%s)", opts.addr, opts.transport)
	if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// metadataFromRequest implements spec.md §6's `GET /sse` query params
// (tags, preset, template context), reused for /mcp since both
// establish one InboundSession per connecting client.
func metadataFromRequest(r *http.Request) session.Metadata {
	q := r.URL.Query()
	meta := session.Metadata{
		PresetName: q.Get("preset"),
	}
	if tags := q.Get("tags"); tags != "" {
		meta.Tags = strings.Split(tags, ",")
	}
	if raw := q.Get("context"); raw != "" {
		var tc map[string]any
		if err := json.Unmarshal([]byte(raw), &tc); err != nil {
			log.Logf("1mcp: ignoring malformed ?context= template context: %v", err)
		} else {
			meta.TemplateContext = tc
		}
	}
	return meta
}

// requireBearer validates the inbound Authorization header against the
// oauth Store and attaches the resulting claims (plus the requested tag
// set, standing in for the session's resolved scopes) to the request
// context oauth.AuthMiddleware reads downstream, per spec.md §4.10's
// "missing scope fails the request, not the session" contract.
func requireBearer(rt *authRuntime, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := rt.store.ValidateBearer(r.Context(), token)
		if err != nil {
			http.Error(w, "invalid or expired bearer token", http.StatusUnauthorized)
			return
		}
		meta := metadataFromRequest(r)
		tags := make(map[string]bool, len(meta.Tags))
		for _, t := range meta.Tags {
			tags[t] = true
		}
		ctx := oauth.WithSessionTags(oauth.WithClaims(r.Context(), claims), tags)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func dialTemplate(ctx context.Context, manager *upstream.Manager, p config.ServerParams) (*upstream.OutboundConnection, error) {
	// Template connections are dialed the same way a static upstream
	// would be, by routing through a throwaway single-entry reload so
	// the Client Manager's reconnect loop, backoff, and status tracking
	// are reused unchanged rather than duplicated here.
	diff := manager.ApplyReload(ctx, config.OutboundConfig{Servers: map[string]config.ServerParams{p.Name: p}})
	_ = diff
	c, ok := manager.Get(p.Name)
	if !ok {
		return nil, fmt.Errorf("dialing template connection %q failed", p.Name)
	}
	return c, nil
}
