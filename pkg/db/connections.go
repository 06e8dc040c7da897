package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MailConnection holds a user's provider credential and sync state.
// A user without a row here is not connected.
type MailConnection struct {
	UserID          string     `db:"user_id"`
	AccessToken     string     `db:"access_token"`
	RefreshToken    string     `db:"refresh_token"`
	TokenType       string     `db:"token_type"`
	ExpiresAt       *time.Time `db:"expires_at"`
	HistoryCursor   string     `db:"history_cursor"`
	WatchExpiration *time.Time `db:"watch_expiration"`
	CreatedAt       time.Time  `db:"created_at"`
}

// For logging with Charmbracelet log
func (c MailConnection) String() string {
	// Safe display of token prefixes only
	accessTokenValue := "<empty>"
	if len(c.AccessToken) > 12 {
		accessTokenValue = c.AccessToken[:8] + "..."
	} else if c.AccessToken != "" {
		accessTokenValue = "<short-token>"
	}

	expiresValue := "<none>"
	if c.ExpiresAt != nil {
		expiresValue = c.ExpiresAt.Format(time.RFC3339)
	}

	return fmt.Sprintf("MailConnection{user_id=%s, token_type=%s, access_token=%s, expires_at=%s, cursor=%s}",
		c.UserID, c.TokenType, accessTokenValue, expiresValue, c.HistoryCursor)
}

// GetConnection returns nil without error when the user has no connection.
func (s *Store) GetConnection(ctx context.Context, userID string) (*MailConnection, error) {
	var conn MailConnection
	err := s.db.GetContext(ctx, &conn, `
		SELECT
			user_id,
			access_token,
			refresh_token,
			token_type,
			expires_at,
			history_cursor,
			watch_expiration,
			created_at
		FROM mail_connections
		WHERE user_id = ?
	`, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get connection for user '%s': %w", userID, err)
	}
	return &conn, nil
}

// SetConnection saves or replaces a user's connection.
func (s *Store) SetConnection(ctx context.Context, conn MailConnection) error {
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO mail_connections (
			user_id,
			access_token,
			refresh_token,
			token_type,
			expires_at,
			history_cursor,
			watch_expiration,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conn.UserID,
		conn.AccessToken,
		conn.RefreshToken,
		conn.TokenType,
		conn.ExpiresAt,
		conn.HistoryCursor,
		conn.WatchExpiration,
		conn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}
	return nil
}

// UpdateTokens replaces the credential fields and leaves sync state untouched.
func (s *Store) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken, tokenType string, expiresAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mail_connections
		SET access_token = ?, refresh_token = ?, token_type = ?, expires_at = ?
		WHERE user_id = ?
	`, accessToken, refreshToken, tokenType, expiresAt, userID)
	if err != nil {
		return fmt.Errorf("failed to update tokens for user '%s': %w", userID, err)
	}
	return nil
}

func (s *Store) UpdateHistoryCursor(ctx context.Context, userID, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mail_connections SET history_cursor = ? WHERE user_id = ?
	`, cursor, userID)
	if err != nil {
		return fmt.Errorf("failed to update history cursor for user '%s': %w", userID, err)
	}
	return nil
}

func (s *Store) UpdateWatchExpiration(ctx context.Context, userID string, expiration time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mail_connections SET watch_expiration = ? WHERE user_id = ?
	`, expiration, userID)
	if err != nil {
		return fmt.Errorf("failed to update watch expiration for user '%s': %w", userID, err)
	}
	return nil
}

// ListConnections returns every connection, for the watch renewal sweep.
func (s *Store) ListConnections(ctx context.Context) ([]MailConnection, error) {
	var conns []MailConnection
	err := s.db.SelectContext(ctx, &conns, `
		SELECT
			user_id,
			access_token,
			refresh_token,
			token_type,
			expires_at,
			history_cursor,
			watch_expiration,
			created_at
		FROM mail_connections
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

func (s *Store) DeleteConnection(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM mail_connections WHERE user_id = ?
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete connection for user '%s': %w", userID, err)
	}
	return nil
}
