package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EchoPostAI/echopost/pkg/db"
)

func testManager(t *testing.T, endpoint string) *Manager {
	t.Helper()
	logger := log.New(io.Discard)
	return NewManager(logger, "client-id", "client-secret", "http://127.0.0.1/callback").WithTokenEndpoint(endpoint)
}

func connExpiringIn(d time.Duration) *db.MailConnection {
	expiresAt := time.Now().Add(d)
	return &db.MailConnection{
		UserID:       "u1",
		AccessToken:  "old-token",
		RefreshToken: "refresh-token",
		TokenType:    "Bearer",
		ExpiresAt:    &expiresAt,
	}
}

func TestValidExpiryBuffer(t *testing.T) {
	// 5 minute buffer: 4 minutes left counts as expired, 6 minutes as valid.
	assert.False(t, Valid(connExpiringIn(4*time.Minute)))
	assert.True(t, Valid(connExpiringIn(6*time.Minute)))
	assert.False(t, Valid(&db.MailConnection{AccessToken: "tok"}))
}

func TestEnsureValidNoNetworkCallWhenValid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be called for a valid token")
	}))
	defer server.Close()

	manager := testManager(t, server.URL)
	conn := connExpiringIn(6 * time.Minute)

	got, changed, err := manager.EnsureValid(context.Background(), conn)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, conn, got)
}

func TestEnsureValidRefreshesExpiredToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh-token", r.Form.Get("refresh_token"))
		assert.Equal(t, "client-id", r.Form.Get("client_id"))

		_ = json.NewEncoder(w).Encode(TokenResponse{
			AccessToken: "new-token",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		})
	}))
	defer server.Close()

	manager := testManager(t, server.URL)
	got, changed, err := manager.EnsureValid(context.Background(), connExpiringIn(4*time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "new-token", got.AccessToken)
	// Response omitted the refresh token, the old one is kept.
	assert.Equal(t, "refresh-token", got.RefreshToken)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.After(time.Now().Add(30*time.Minute)))
}

func TestEnsureValidRefreshFailureIsFatal(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad refresh token", http.StatusBadRequest)
	}))
	defer server.Close()

	manager := testManager(t, server.URL)
	_, _, err := manager.EnsureValid(context.Background(), connExpiringIn(-time.Hour))
	require.Error(t, err)
	// One attempt, no local retry.
	assert.Equal(t, 1, calls)
}

func TestExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		assert.Equal(t, "http://127.0.0.1/callback", r.Form.Get("redirect_uri"))

		_ = json.NewEncoder(w).Encode(TokenResponse{
			AccessToken:  "access",
			RefreshToken: "refresh",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
		})
	}))
	defer server.Close()

	manager := testManager(t, server.URL)
	resp, err := manager.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "access", resp.AccessToken)
	assert.Equal(t, "refresh", resp.RefreshToken)
}
