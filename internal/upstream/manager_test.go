package upstream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp-app/agent/internal/config"
)

func disabledServer(name string, tags ...string) config.ServerParams {
	return config.ServerParams{Name: name, Kind: config.TransportStdio, Command: "true", Tags: tags, Disabled: true}
}

func TestApplyReload_AddedRemovedMutated(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	cfg1 := config.OutboundConfig{Servers: map[string]config.ServerParams{
		"a": disabledServer("a"),
		"b": disabledServer("b"),
	}}
	diff1 := m.ApplyReload(ctx, cfg1)
	assert.Equal(t, ChangeAdded, diff1.Changes["a"])
	assert.Equal(t, ChangeAdded, diff1.Changes["b"])
	assert.Len(t, m.Snapshot(), 2)

	cfg2 := config.OutboundConfig{Servers: map[string]config.ServerParams{
		"a": disabledServer("a"), // unchanged
		"b": disabledServer("b", "new-tag"), // mutated
		"c": disabledServer("c"), // added
		// "b" stays, "a" stays, nothing removed... wait need removed case
	}}
	diff2 := m.ApplyReload(ctx, cfg2)
	_, aChanged := diff2.Changes["a"]
	assert.False(t, aChanged, "unchanged server should not appear in the diff")
	assert.Equal(t, ChangeMutated, diff2.Changes["b"])
	assert.Equal(t, ChangeAdded, diff2.Changes["c"])

	cfg3 := config.OutboundConfig{Servers: map[string]config.ServerParams{
		"a": disabledServer("a"),
	}}
	diff3 := m.ApplyReload(ctx, cfg3)
	assert.Equal(t, ChangeRemoved, diff3.Changes["b"])
	assert.Equal(t, ChangeRemoved, diff3.Changes["c"])
	_, aChanged = diff3.Changes["a"]
	assert.False(t, aChanged)

	require.Len(t, m.Snapshot(), 1)
	_, ok := m.Get("a")
	assert.True(t, ok)
}

func TestApplyReload_NoEntryAfterRemoval(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	m.ApplyReload(ctx, config.OutboundConfig{Servers: map[string]config.ServerParams{
		"a": disabledServer("a"),
	}})
	m.ApplyReload(ctx, config.OutboundConfig{Servers: map[string]config.ServerParams{}})

	_, ok := m.Get("a")
	assert.False(t, ok)
}

func TestManager_TransitionSink_FiresOnRealStatusChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	m := NewManager(nil, nil).WithTransitionSink(func(serverName string, from, to Status, detail string) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, string(from)+"->"+string(to))
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.ApplyReload(ctx, config.OutboundConfig{Servers: map[string]config.ServerParams{
		"a": {Name: "a", Kind: config.TransportStdio, Command: "/nonexistent-binary-for-test"},
	}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, tr := range transitions {
			if tr == "Disconnected->Connecting" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOutboundConnection_DisabledNeverConnects(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	m.ApplyReload(ctx, config.OutboundConfig{Servers: map[string]config.ServerParams{
		"a": disabledServer("a"),
	}})
	c, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, StatusDisconnected, c.Status().Status)
}
