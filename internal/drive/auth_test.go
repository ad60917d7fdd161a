package drive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/vheikkil/gdrive-go/internal/tokenfile"
)

// fakeOAuthServer mocks the device code and token endpoints.
func fakeOAuthServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/device/code":
			fmt.Fprint(w, `{
				"device_code": "dev123",
				"user_code": "ABCD-EFGH",
				"verification_uri": "https://example.com/activate",
				"expires_in": 1800,
				"interval": 0
			}`)
		case "/token":
			fmt.Fprint(w, `{
				"access_token": "access-1",
				"refresh_token": "refresh-1",
				"token_type": "Bearer",
				"expires_in": 3600
			}`)
		default:
			t.Errorf("unexpected oauth request: %s", r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestDoLogin_DeviceFlow(t *testing.T) {
	srv := fakeOAuthServer(t)
	tokenPath := filepath.Join(t.TempDir(), "token.json")

	cfg := &oauth2.Config{
		ClientID: "client1",
		Endpoint: oauth2.Endpoint{
			TokenURL:      srv.URL + "/token",
			DeviceAuthURL: srv.URL + "/device/code",
		},
	}

	var shown DeviceAuth

	display := func(da DeviceAuth) { shown = da }

	ts, err := doLogin(context.Background(), tokenPath, cfg, display, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "ABCD-EFGH", shown.UserCode)
	assert.Equal(t, "https://example.com/activate", shown.VerificationURI)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)

	// Token landed on disk.
	saved, err := tokenfile.Load(tokenPath)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "refresh-1", saved.RefreshToken)
}

func TestTokenSourceFromPath_NotLoggedIn(t *testing.T) {
	_, err := TokenSourceFromPath(context.Background(), filepath.Join(t.TempDir(), "nope.json"),
		ClientCredentials{ClientID: "c"}, slog.Default())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestTokenSourceFromPath_UsesSavedToken(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token.json")

	require.NoError(t, tokenfile.Save(tokenPath, &oauth2.Token{
		AccessToken: "saved-access",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}))

	ts, err := TokenSourceFromPath(context.Background(), tokenPath,
		ClientCredentials{ClientID: "c"}, slog.Default())
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "saved-access", tok)
}

func TestTokenBridge_PersistsRefreshedToken(t *testing.T) {
	srv := fakeOAuthServer(t)
	tokenPath := filepath.Join(t.TempDir(), "token.json")

	expired := &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-0",
		Expiry:       time.Now().Add(-time.Hour),
	}
	require.NoError(t, tokenfile.Save(tokenPath, expired))

	cfg := &oauth2.Config{
		ClientID: "client1",
		Endpoint: oauth2.Endpoint{TokenURL: srv.URL + "/token"},
	}

	bridge := newTokenBridge(cfg.TokenSource(context.Background(), expired), tokenPath, expired, slog.Default())

	tok, err := bridge.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)

	// The refreshed token replaced the stale one on disk.
	saved, loadErr := tokenfile.Load(tokenPath)
	require.NoError(t, loadErr)
	require.NotNil(t, saved)
	assert.Equal(t, "access-1", saved.AccessToken)
}

func TestOauthConfig_RequiresClientID(t *testing.T) {
	_, err := oauthConfig(ClientCredentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
}

func TestLogout(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, tokenfile.Save(tokenPath, &oauth2.Token{AccessToken: "a"}))

	require.NoError(t, Logout(tokenPath, slog.Default()))

	saved, err := tokenfile.Load(tokenPath)
	require.NoError(t, err)
	assert.Nil(t, saved)

	// Logging out twice is fine.
	require.NoError(t, Logout(tokenPath, slog.Default()))
}
