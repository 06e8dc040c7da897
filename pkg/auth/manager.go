// Package auth manages the OAuth credential lifecycle for mail connections:
// the one-time authorization-code exchange and keeping access tokens fresh.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2/google"

	"github.com/EchoPostAI/echopost/pkg/db"
)

// Tokens expiring within this window are treated as already expired, so a
// token is never handed to a provider call with seconds left on it.
const expiryBuffer = 5 * time.Minute

// TokenResponse encapsulates the response from the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type Manager struct {
	logger        *log.Logger
	clientID      string
	clientSecret  string
	redirectURI   string
	tokenEndpoint string
	httpClient    *http.Client
}

func NewManager(logger *log.Logger, clientID, clientSecret, redirectURI string) *Manager {
	return &Manager{
		logger:        logger,
		clientID:      clientID,
		clientSecret:  clientSecret,
		redirectURI:   redirectURI,
		tokenEndpoint: google.Endpoint.TokenURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithTokenEndpoint overrides the token endpoint, for tests.
func (m *Manager) WithTokenEndpoint(endpoint string) *Manager {
	m.tokenEndpoint = endpoint
	return m
}

// Valid reports whether the credential can still be used without a refresh.
// A credential with no recorded expiry counts as expired.
func Valid(conn *db.MailConnection) bool {
	if conn.AccessToken == "" || conn.ExpiresAt == nil {
		return false
	}
	return time.Until(*conn.ExpiresAt) > expiryBuffer
}

// EnsureValid returns a usable credential for the connection. A still-valid
// token is returned as-is with no network I/O. An expired one is refreshed
// once; the refreshed credential is returned with changed=true so the caller
// persists it. Refresh failure is returned as-is, never retried here.
func (m *Manager) EnsureValid(ctx context.Context, conn *db.MailConnection) (*db.MailConnection, bool, error) {
	if Valid(conn) {
		return conn, false, nil
	}

	if conn.RefreshToken == "" {
		return nil, false, fmt.Errorf("no refresh token for user '%s'", conn.UserID)
	}

	m.logger.Debug("refreshing access token", "user_id", conn.UserID)

	tokenResp, err := m.requestToken(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {conn.RefreshToken},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to refresh token: %w", err)
	}

	refreshed := *conn
	refreshed.AccessToken = tokenResp.AccessToken
	refreshed.TokenType = tokenResp.TokenType
	// The provider rotates refresh tokens only sometimes; keep the old one
	// when the response omits it.
	if tokenResp.RefreshToken != "" {
		refreshed.RefreshToken = tokenResp.RefreshToken
	}
	expiresAt := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	refreshed.ExpiresAt = &expiresAt

	return &refreshed, true, nil
}

// ExchangeCode performs the one-time authorization-code exchange.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	tokenResp, err := m.requestToken(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {m.redirectURI},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tokenResp, nil
}

func (m *Manager) requestToken(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send token request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			m.logger.Error("failed to close token response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to obtain token: %d: %s", resp.StatusCode, body)
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	return &tokenResp, nil
}
