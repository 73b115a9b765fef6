package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp-app/agent/internal/mcptag"
	"github.com/1mcp-app/agent/internal/upstream"
)

func TestManager_RegisterUnregister(t *testing.T) {
	presets := mcptag.NewMemoryStore(nil)
	m := NewManager(presets)

	s := New(Metadata{SessionID: "s1"}, nil, upstream.NewManager(nil, nil), presets)
	m.Register(s)
	require.Equal(t, 1, m.Count())

	live := m.LiveSessions()
	require.Len(t, live, 1)
	assert.Equal(t, "s1", live[0].ID())

	m.Unregister(s)
	assert.Equal(t, 0, m.Count())
}

func TestManager_PresetStore_ReturnsSharedStore(t *testing.T) {
	presets := mcptag.NewMemoryStore(nil)
	m := NewManager(presets)
	assert.Same(t, presets, m.PresetStore())
}
