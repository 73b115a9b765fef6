package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordTransition_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTransition(ctx, "github", "Disconnected", "Connecting", ""))
	require.NoError(t, s.RecordTransition(ctx, "github", "Connecting", "Connected", "handshake ok"))

	events, err := s.History(ctx, "github", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "Connecting", events[0].FromStatus)
	assert.Equal(t, "Connected", events[0].ToStatus)
	assert.Equal(t, "handshake ok", events[0].Detail)
	assert.Equal(t, "Disconnected", events[1].FromStatus)
}

func TestStore_History_ScopedPerServer(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTransition(ctx, "github", "Disconnected", "Connecting", ""))
	require.NoError(t, s.RecordTransition(ctx, "slack", "Disconnected", "Connecting", ""))

	events, err := s.History(ctx, "github", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "github", events[0].ServerName)
}

func TestStore_History_RespectsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordTransition(ctx, "github", "Connected", "Error", "retry"))
	}

	events, err := s.History(ctx, "github", 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestStore_RecentAll_AcrossServers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTransition(ctx, "github", "Disconnected", "Connecting", ""))
	require.NoError(t, s.RecordTransition(ctx, "slack", "Disconnected", "Connecting", ""))

	events, err := s.RecentAll(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestStore_Open_AppliesMigrationsIdempotently(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "nested", "events.db")

	s1, err := Open(dbFile)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(dbFile)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	_, err = s2.RecentAll(context.Background(), 1)
	require.NoError(t, err)
}
