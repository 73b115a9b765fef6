package oauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/1mcp-app/agent/internal/errs"
)

// Claims is what a successful validateBearer call returns (spec.md
// §4.10): the bearer's subject, granted scopes, and expiry.
type Claims struct {
	Subject   string
	Scopes    []string
	ExpiresAt time.Time
}

// Has reports whether scope is among the claim's granted scopes.
func (c Claims) Has(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ServerAuthProvider is the contract the Session Manager's
// authorization middleware consumes (spec.md §4.10): validate a bearer
// token, fail Unauthenticated on anything else.
type ServerAuthProvider interface {
	ValidateBearer(ctx context.Context, token string) (Claims, error)
}

// RequiredScope maps an MCP method family to the scope spec.md §4.10's
// table names. "" means the method family carries no scope requirement
// of its own (only the tag-scope check below applies).
func RequiredScope(method string) string {
	switch {
	case strings.HasPrefix(method, "tools/"):
		return "mcp:tools"
	case strings.HasPrefix(method, "resources/"):
		return "mcp:resources"
	case strings.HasPrefix(method, "prompts/"):
		return "mcp:prompts"
	default:
		return ""
	}
}

// TagScope formats the per-tag scope name spec.md §4.10 requires for
// every tag a session's filter resolves to: "tag:<name>".
func TagScope(tag string) string { return "tag:" + tag }

// Authorize implements spec.md §4.10's full authorization check for one
// request: the method-family scope (if any) and every tag scope the
// session's resolved tag set carries. Missing scope ⇒ Unauthorized;
// the session itself persists (the caller only fails this one request).
func Authorize(claims Claims, method string, sessionTags map[string]bool) error {
	if scope := RequiredScope(method); scope != "" && !claims.Has(scope) {
		return errs.New(errs.Unauthorized, "oauth.Authorize", fmt.Errorf("missing scope %q", scope))
	}
	for tag := range sessionTags {
		scope := TagScope(tag)
		if !claims.Has(scope) {
			return errs.New(errs.Unauthorized, "oauth.Authorize", fmt.Errorf("missing scope %q", scope))
		}
	}
	return nil
}
