package session

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/mcptag"
	"github.com/1mcp-app/agent/internal/upstream"
)

func TestMetadata_ResolveFilter_PresetWinsOverExpressionAndTags(t *testing.T) {
	expr := mcptag.Expr{Term: "web"}
	m := Metadata{PresetName: "ops", TagExpression: &expr, Tags: []string{"db"}}
	f := m.ResolveFilter()
	assert.Equal(t, mcptag.KindPreset, f.Kind())
	assert.Equal(t, "ops", f.PresetName())
}

func TestMetadata_ResolveFilter_ExpressionWinsOverTags(t *testing.T) {
	expr := mcptag.Expr{Term: "web"}
	m := Metadata{TagExpression: &expr, Tags: []string{"db"}}
	assert.Equal(t, mcptag.KindAdvanced, m.ResolveFilter().Kind())
}

func TestMetadata_ResolveFilter_TagsFallback(t *testing.T) {
	m := Metadata{Tags: []string{"db"}}
	assert.Equal(t, mcptag.KindSimpleOr, m.ResolveFilter().Kind())
}

func TestMetadata_ResolveFilter_NoneByDefault(t *testing.T) {
	assert.Equal(t, mcptag.KindNone, Metadata{}.ResolveFilter().Kind())
}

func TestNew_AssignsSessionIDWhenMissing(t *testing.T) {
	s := New(Metadata{}, nil, upstream.NewManager(nil, nil), mcptag.NewMemoryStore(nil))
	assert.NotEmpty(t, s.ID())
}

func TestNew_KeepsSuppliedSessionID(t *testing.T) {
	s := New(Metadata{SessionID: "fixed"}, nil, upstream.NewManager(nil, nil), mcptag.NewMemoryStore(nil))
	assert.Equal(t, "fixed", s.ID())
}

func TestSession_Refresh_NoUpstreamsRegistersNothing(t *testing.T) {
	mgr := upstream.NewManager(nil, nil)
	diff := mgr.ApplyReload(context.Background(), config.OutboundConfig{Servers: map[string]config.ServerParams{
		"db": {Name: "db", Kind: config.TransportStdio, Command: "true", Tags: []string{"db"}, Disabled: true},
	}})
	require.Len(t, diff.Changes, 1)

	s := New(Metadata{}, nil, mgr, mcptag.NewMemoryStore(nil))
	srv := mcp.NewServer(&mcp.Implementation{Name: "test-agent", Version: "0.1.0"}, nil)

	assert.NotPanics(t, func() {
		s.AttachServer(context.Background(), srv, nil)
	})
}

func TestSession_TrackAndReleaseTemplateKeys(t *testing.T) {
	s := New(Metadata{}, nil, upstream.NewManager(nil, nil), mcptag.NewMemoryStore(nil))
	s.TrackTemplateKey("a")
	s.TrackTemplateKey("b")
	assert.Equal(t, []string{"a", "b"}, s.ReleasedKeys())
}
