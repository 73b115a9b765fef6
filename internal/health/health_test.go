package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/upstream"
)

func TestHandler_NoUpstreams_Healthy(t *testing.T) {
	m := upstream.NewManager(nil, nil)
	state := New(m, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	Handler(state, nil)(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandler_NeverConnectedError_Degraded(t *testing.T) {
	m := upstream.NewManager(nil, nil)
	m.ApplyReload(context.Background(), config.OutboundConfig{Servers: map[string]config.ServerParams{
		"broken": {Name: "broken", Kind: config.TransportStdio, Command: "/nonexistent"},
	}})
	state := New(m, nil)

	require.Eventually(t, func() bool { return !state.IsHealthy() }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_DisabledUpstream_Healthy(t *testing.T) {
	m := upstream.NewManager(nil, nil)
	m.ApplyReload(context.Background(), config.OutboundConfig{Servers: map[string]config.ServerParams{
		"off": {Name: "off", Kind: config.TransportStdio, Command: "true", Disabled: true},
	}})
	state := New(m, nil)
	assert.True(t, state.IsHealthy())
}
