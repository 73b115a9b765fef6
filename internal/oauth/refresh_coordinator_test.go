package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access-token",
			"refresh_token": "new-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRefreshCoordinator_EnsureValidToken_PersistsRefreshedToken(t *testing.T) {
	srv := newTokenServer(t)
	store, err := NewStore(t.TempDir(), "secret")
	require.NoError(t, err)
	require.NoError(t, store.Put(KindToken, "github", &oauth2.Token{
		AccessToken:  "old",
		RefreshToken: "old-refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	cfg := &oauth2.Config{
		ClientID: "client",
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL},
	}
	rc := NewRefreshCoordinator(store, map[string]*oauth2.Config{"github": cfg})

	require.NoError(t, rc.EnsureValidToken(context.Background(), "github"))

	var tok oauth2.Token
	require.NoError(t, store.Get(KindToken, "github", &tok))
	assert.Equal(t, "new-access-token", tok.AccessToken)
}

func TestRefreshCoordinator_UnknownServerFails(t *testing.T) {
	store, err := NewStore(t.TempDir(), "secret")
	require.NoError(t, err)
	rc := NewRefreshCoordinator(store, nil)
	err = rc.EnsureValidToken(context.Background(), "unknown")
	assert.Error(t, err)
}

func TestRefreshCoordinator_ConcurrentCallsCoalesce(t *testing.T) {
	srv := newTokenServer(t)
	store, err := NewStore(t.TempDir(), "secret")
	require.NoError(t, err)
	require.NoError(t, store.Put(KindToken, "github", &oauth2.Token{
		AccessToken: "old",
		Expiry:      time.Now().Add(-time.Hour),
	}))
	cfg := &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: srv.URL}}
	rc := NewRefreshCoordinator(store, map[string]*oauth2.Config{"github": cfg})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, rc.EnsureValidToken(context.Background(), "github"))
		}()
	}
	wg.Wait()
}
