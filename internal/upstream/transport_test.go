package upstream

import (
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp-app/agent/internal/config"
)

func TestBuildTransport_Stdio(t *testing.T) {
	tr, err := BuildTransport(config.ServerParams{
		Name: "fs", Kind: config.TransportStdio, Command: "mcp-fs", Args: []string{"--root", "/data"},
	}, nil)
	require.NoError(t, err)
	_, ok := tr.(*mcp.CommandTransport)
	assert.True(t, ok)
}

func TestBuildTransport_StdioSplitsBareCommand(t *testing.T) {
	tr, err := BuildTransport(config.ServerParams{
		Name: "fs", Kind: config.TransportStdio, Command: "mcp-fs --root /data",
	}, nil)
	require.NoError(t, err)
	_, ok := tr.(*mcp.CommandTransport)
	assert.True(t, ok)
}

func TestBuildTransport_HTTP(t *testing.T) {
	tr, err := BuildTransport(config.ServerParams{
		Name: "api", Kind: config.TransportHTTP, URL: "https://example.com/mcp",
	}, func() string { return "Bearer xyz" })
	require.NoError(t, err)
	_, ok := tr.(*mcp.StreamableClientTransport)
	assert.True(t, ok)
}

func TestBuildTransport_SSE(t *testing.T) {
	tr, err := BuildTransport(config.ServerParams{
		Name: "api", Kind: config.TransportSSE, URL: "https://example.com/sse",
	}, nil)
	require.NoError(t, err)
	_, ok := tr.(*mcp.SSEClientTransport)
	assert.True(t, ok)
}

func TestBuildTransport_MissingURLIsInvalidConfig(t *testing.T) {
	_, err := BuildTransport(config.ServerParams{Name: "api", Kind: config.TransportHTTP}, nil)
	require.Error(t, err)
}

func TestBuildTransport_UnknownKind(t *testing.T) {
	_, err := BuildTransport(config.ServerParams{Name: "x", Kind: "carrier-pigeon"}, nil)
	require.Error(t, err)
}
