package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1mcp-app/agent/internal/aggregator"
	"github.com/1mcp-app/agent/internal/config"
	"github.com/1mcp-app/agent/internal/mcptag"
	"github.com/1mcp-app/agent/internal/upstream"
)

type fakeSession struct {
	id       string
	filter   mcptag.Filter
	refCount int
}

func (f *fakeSession) ID() string               { return f.id }
func (f *fakeSession) Filter() mcptag.Filter     { return f.filter }
func (f *fakeSession) Refresh(_ context.Context) { f.refCount++ }

type fakeRegistry struct {
	sessions []aggregator.NotifiableSession
	presets  mcptag.Store
}

func (r *fakeRegistry) LiveSessions() []aggregator.NotifiableSession { return r.sessions }
func (r *fakeRegistry) PresetStore() mcptag.Store                    { return r.presets }

func writeConfig(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestService_Reload_AddedUpstreamNotifiesAdmittedSession(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"mcpServers":{}}`)

	mgr := upstream.NewManager(nil, nil)
	sess := &fakeSession{id: "s1", filter: mcptag.SimpleOr([]string{"db"})}
	fanout := aggregator.NewFanout(&fakeRegistry{sessions: []aggregator.NotifiableSession{sess}})

	svc := New(path, nil, mgr, fanout)
	require.NoError(t, svc.Reload(context.Background()))
	assert.Empty(t, mgr.Snapshot())

	writeConfig(t, dir, `{"mcpServers":{"db":{"command":"true","tags":["db"],"disabled":true}}}`)
	require.NoError(t, svc.Reload(context.Background()))
	assert.Len(t, mgr.Snapshot(), 1)

	require.Eventually(t, func() bool { return sess.refCount > 0 }, time.Second, 5*time.Millisecond)
}

func TestService_Reload_InvalidConfigKeepsPreviousState(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"mcpServers":{"db":{"command":"true","disabled":true}}}`)

	mgr := upstream.NewManager(nil, nil)
	svc := New(path, nil, mgr, nil)
	require.NoError(t, svc.Reload(context.Background()))
	require.Len(t, mgr.Snapshot(), 1)

	writeConfig(t, dir, `{not valid json`)
	err := svc.Reload(context.Background())
	require.Error(t, err)
	assert.Len(t, mgr.Snapshot(), 1)
}

func TestService_Reload_NoChangesSkipsFanout(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"mcpServers":{}}`)

	mgr := upstream.NewManager(nil, nil)
	sess := &fakeSession{id: "s1", filter: mcptag.None()}
	fanout := aggregator.NewFanout(&fakeRegistry{sessions: []aggregator.NotifiableSession{sess}})
	svc := New(path, nil, mgr, fanout)

	require.NoError(t, svc.Reload(context.Background()))
	require.NoError(t, svc.Reload(context.Background()))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, sess.refCount)
}

func TestService_Run_ConsumesWatcherSignals(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"mcpServers":{}}`)

	w, err := config.NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	mgr := upstream.NewManager(nil, nil)
	svc := New(path, w, mgr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	writeConfig(t, dir, `{"mcpServers":{"db":{"command":"true","disabled":true}}}`)

	require.Eventually(t, func() bool {
		return len(mgr.Snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
