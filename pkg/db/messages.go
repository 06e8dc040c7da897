package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

const (
	ReplySourceInternal = "internal"
	ReplySourceProvider = "provider"
)

// Message is the durable record for one provider message. The UNIQUE
// constraint on provider_message_id is the idempotency anchor: a message
// that failed mid-pipeline stays pending and is picked up by a later
// retry sweep, never reprocessed once completed.
type Message struct {
	ID                string     `db:"id"`
	UserID            string     `db:"user_id"`
	ProviderMessageID string     `db:"provider_message_id"`
	ThreadID          *string    `db:"thread_id"`
	SenderEmail       string     `db:"sender_email"`
	SenderName        *string    `db:"sender_name"`
	Subject           *string    `db:"subject"`
	Body              *string    `db:"body"`
	ConvertedBody     *string    `db:"converted_body"`
	AudioRef          *string    `db:"audio_ref"`
	ProcessingStatus  string     `db:"processing_status"`
	ReceivedAt        *time.Time `db:"received_at"`
	RepliedAt         *time.Time `db:"replied_at"`
	ReplySource       *string    `db:"reply_source"`
	CreatedAt         time.Time  `db:"created_at"`
}

func (s *Store) MessageExists(ctx context.Context, providerMessageID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1) FROM messages WHERE provider_message_id = ?
	`, providerMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return count > 0, nil
}

// CreateMessage inserts the record with processing_status pending.
func (s *Store) CreateMessage(ctx context.Context, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id,
			user_id,
			provider_message_id,
			thread_id,
			sender_email,
			sender_name,
			subject,
			body,
			processing_status,
			received_at,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.UserID,
		msg.ProviderMessageID,
		msg.ThreadID,
		msg.SenderEmail,
		msg.SenderName,
		msg.Subject,
		msg.Body,
		StatusPending,
		msg.ReceivedAt,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// SetConvertedBody stores the transformed text. Status stays pending so a
// synthesis failure afterwards leaves the record resumable.
func (s *Store) SetConvertedBody(ctx context.Context, id, convertedBody string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET converted_body = ? WHERE id = ?
	`, convertedBody, id)
	if err != nil {
		return fmt.Errorf("failed to set converted body: %w", err)
	}
	return nil
}

// CompleteMessage records the audio reference and flips the status.
func (s *Store) CompleteMessage(ctx context.Context, id, audioRef string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET audio_ref = ?, processing_status = ? WHERE id = ?
	`, audioRef, StatusCompleted, id)
	if err != nil {
		return fmt.Errorf("failed to complete message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	var msg Message
	err := s.db.GetContext(ctx, &msg, `
		SELECT * FROM messages WHERE id = ?
	`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message '%s': %w", id, err)
	}
	return &msg, nil
}

func (s *Store) GetMessageByProviderID(ctx context.Context, providerMessageID string) (*Message, error) {
	var msg Message
	err := s.db.GetContext(ctx, &msg, `
		SELECT * FROM messages WHERE provider_message_id = ?
	`, providerMessageID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message by provider id '%s': %w", providerMessageID, err)
	}
	return &msg, nil
}

func (s *Store) ListMessages(ctx context.Context, userID string) ([]Message, error) {
	var msgs []Message
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages WHERE user_id = ? ORDER BY received_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// ListUnresolved returns the user's messages with no reply recorded yet.
func (s *Store) ListUnresolved(ctx context.Context, userID string) ([]Message, error) {
	var msgs []Message
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages WHERE user_id = ? AND replied_at IS NULL
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) SetThreadID(ctx context.Context, id, threadID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET thread_id = ? WHERE id = ?
	`, threadID, id)
	if err != nil {
		return fmt.Errorf("failed to set thread id: %w", err)
	}
	return nil
}

// MarkRepliedIfUnset records the reply only when none is recorded yet, so
// the first writer wins whether it is the reply endpoint or the reconciler.
// Returns true when this call set the fields.
func (s *Store) MarkRepliedIfUnset(ctx context.Context, id string, repliedAt time.Time, source string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET replied_at = ?, reply_source = ?
		WHERE id = ? AND replied_at IS NULL
	`, repliedAt, source, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark message replied: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
