package oauth

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1mcp-app/agent/internal/errs"
)

var errNoClaims = errors.New("no bearer claims in request context")

type contextKey string

const (
	claimsContextKey      contextKey = "oauth.claims"
	sessionTagsContextKey contextKey = "oauth.sessionTags"
)

// WithClaims and WithSessionTags attach the per-request authorization
// inputs the Session Manager resolves once per inbound transport
// connect (bearer claims from ValidateBearer, and the session's
// resolved tag set) so AuthMiddleware can read them per call without
// re-deriving them on every request.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

func WithSessionTags(ctx context.Context, tags map[string]bool) context.Context {
	return context.WithValue(ctx, sessionTagsContextKey, tags)
}

func claimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsContextKey).(Claims)
	return c, ok
}

func sessionTagsFromContext(ctx context.Context) map[string]bool {
	tags, _ := ctx.Value(sessionTagsContextKey).(map[string]bool)
	return tags
}

// AuthMiddleware enforces spec.md §4.10's scope table on every inbound
// method call: a mcp.Middleware that inspects context set up earlier in
// the chain and either proceeds or fails the call — never the session,
// matching "missing scope ⇒ fail that request... session persists".
func AuthMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			claims, ok := claimsFromContext(ctx)
			if !ok {
				return nil, errs.New(errs.Unauthenticated, "oauth.AuthMiddleware", errNoClaims)
			}
			if err := Authorize(claims, method, sessionTagsFromContext(ctx)); err != nil {
				return nil, err
			}
			return next(ctx, method, req)
		}
	}
}
