package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp-app/agent/internal/config"
)

func TestRender_SubstitutesDottedPaths(t *testing.T) {
	p := config.ServerParams{
		Command: "mcp-github",
		Args:    []string{"--org", "{{session.org}}", "--user", "{{session.user}}"},
		Env:     map[string]string{"TOKEN": "{{session.token}}"},
	}
	ctx := map[string]any{
		"session": map[string]any{"org": "acme", "user": "alice", "token": "secret123"},
	}

	rendered, err := Render(p, ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"--org", "acme", "--user", "alice"}, rendered.Args)
	assert.Equal(t, "secret123", rendered.Env["TOKEN"])
	assert.False(t, rendered.Template)
}

func TestRender_MissingPathRendersEmpty(t *testing.T) {
	p := config.ServerParams{Args: []string{"--org", "{{session.missing}}"}}
	rendered, err := Render(p, map[string]any{"session": map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"--org", ""}, rendered.Args)
}

func TestRender_IdenticalInputsProduceIdenticalHash(t *testing.T) {
	p := config.ServerParams{Command: "mcp-x", Args: []string{"{{session.org}}"}}
	ctxA := map[string]any{"session": map[string]any{"org": "acme"}}
	ctxB := map[string]any{"session": map[string]any{"org": "acme"}}
	ctxC := map[string]any{"session": map[string]any{"org": "other"}}

	ra, err := Render(p, ctxA)
	require.NoError(t, err)
	rb, err := Render(p, ctxB)
	require.NoError(t, err)
	rc, err := Render(p, ctxC)
	require.NoError(t, err)

	assert.Equal(t, ra.Hash(), rb.Hash())
	assert.NotEqual(t, ra.Hash(), rc.Hash())
}
