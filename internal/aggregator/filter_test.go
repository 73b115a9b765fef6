package aggregator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/mcptag"
	"github.com/1mcp-app/agent/internal/upstream"
)

func TestAdmittedNames_SimpleOr(t *testing.T) {
	// Build connections via a manager reload with disabled servers so no
	// real dial happens; AdmittedNames only reads Params().TagSet().
	m := upstream.NewManager(nil, nil)
	diff := m.ApplyReload(context.Background(), config.OutboundConfig{Servers: map[string]config.ServerParams{
		"db":  {Name: "db", Kind: config.TransportStdio, Command: "true", Tags: []string{"db"}, Disabled: true},
		"web": {Name: "web", Kind: config.TransportStdio, Command: "true", Tags: []string{"web"}, Disabled: true},
	}})
	require.Len(t, diff.Changes, 2)

	names, err := AdmittedNames(m.Snapshot(), mcptag.SimpleOr([]string{"db"}), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"db"}, names)
}

func TestAdmittedSet(t *testing.T) {
	set := AdmittedSet([]string{"a", "b"})
	assert.True(t, set["a"])
	assert.False(t, set["c"])
}
