package oauth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Value string
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir(), "test-secret")
	require.NoError(t, err)

	require.NoError(t, s.Put(KindToken, "github", payload{Value: "abc"}))

	var out payload
	require.NoError(t, s.Get(KindToken, "github", &out))
	assert.Equal(t, "abc", out.Value)
}

func TestStore_Get_UnknownRecordFails(t *testing.T) {
	s, err := NewStore(t.TempDir(), "test-secret")
	require.NoError(t, err)

	var out payload
	err = s.Get(KindToken, "missing", &out)
	assert.Error(t, err)
}

func TestStore_FileIsEncryptedNotPlaintext(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, "test-secret")
	require.NoError(t, err)
	require.NoError(t, s.Put(KindSession, "s1", payload{Value: "super-secret-value"}))

	raw, err := os.ReadFile(filepath.Join(dir, "sessions", "sess_s1.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret-value")
}

func TestStore_ExpiredRecordFailsGet(t *testing.T) {
	s, err := NewStore(t.TempDir(), "test-secret")
	require.NoError(t, err)
	require.NoError(t, s.Put(KindAuthCode, "c1", payload{Value: "x"}))

	// Simulate TTL elapsing by overwriting with a record already expired.
	ttls[KindAuthCode] = -time.Second
	defer func() { ttls[KindAuthCode] = time.Minute }()
	require.NoError(t, s.Put(KindAuthCode, "c2", payload{Value: "x"}))

	var out payload
	err = s.Get(KindAuthCode, "c2", &out)
	assert.Error(t, err)
}
