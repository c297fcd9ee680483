package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tripsync/internal/config"
	"github.com/mmynk/tripsync/internal/service"
)

func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	cfg := config.Config{
		DBPath:    filepath.Join(t.TempDir(), "data", "tripsync.db"),
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
	}
	a, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	a.Start()

	server := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		server.Close()
		assert.NoError(t, a.Close())
	})
	return a, server
}

func TestApp_ServesEverything(t *testing.T) {
	a, server := newTestApp(t)

	token, err := a.JWT.Generate("u1")
	require.NoError(t, err)

	signIn := connect.NewClient[service.SignInRequest, service.SignInResponse](
		http.DefaultClient, server.URL+service.SignInProcedure, connect.WithCodec(service.Codec()))
	res, err := signIn.CallUnary(context.Background(), connect.NewRequest(&service.SignInRequest{Token: token}))
	require.NoError(t, err)
	assert.Equal(t, "u1", res.Msg.UserID)
	require.Eventually(t, func() bool { return a.Users.User() != nil }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `tripsync_subscriptions_live{kind="user"} 1`)

	resp, err = http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/feed?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		if strings.Contains(string(msg), `"type":"user"`) {
			break
		}
	}
}

func TestApp_CloseReleasesSubscriptions(t *testing.T) {
	cfg := config.Config{
		DBPath:    filepath.Join(t.TempDir(), "tripsync.db"),
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
	}
	a, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	a.Start()

	token, err := a.JWT.Generate("u1")
	require.NoError(t, err)
	_, err = a.Auth.SignIn(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Remote.Live())

	require.NoError(t, a.Close())
	assert.Equal(t, 0, a.Remote.Live())
}

func TestApp_BadDBPath(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		// A directory cannot be opened as a database file.
		DBPath:    dir,
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
	}
	_, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
