package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Contact is an allow-list entry. Only mail from listed senders is
// converted; everything else is skipped.
type Contact struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Email     string    `db:"email"`
	Name      *string   `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *Store) AddContact(ctx context.Context, userID, email string, name *string) (*Contact, error) {
	contact := &Contact{
		ID:        uuid.New().String(),
		UserID:    userID,
		Email:     email,
		Name:      name,
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, user_id, email, name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, email) DO UPDATE SET name = excluded.name
	`, contact.ID, contact.UserID, contact.Email, contact.Name, contact.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to add contact: %w", err)
	}
	return contact, nil
}

func (s *Store) RemoveContact(ctx context.Context, userID, email string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM contacts WHERE user_id = ? AND email = ?
	`, userID, email)
	if err != nil {
		return fmt.Errorf("failed to remove contact: %w", err)
	}
	return nil
}

func (s *Store) ListContacts(ctx context.Context, userID string) ([]Contact, error) {
	var contacts []Contact
	err := s.db.SelectContext(ctx, &contacts, `
		SELECT id, user_id, email, name, created_at
		FROM contacts
		WHERE user_id = ?
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}

// IsContactAllowed matches the sender address exactly, case included.
func (s *Store) IsContactAllowed(ctx context.Context, userID, email string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(1) FROM contacts WHERE user_id = ? AND email = ?
	`, userID, email)
	if err != nil {
		return false, fmt.Errorf("failed to check contact: %w", err)
	}
	return count > 0, nil
}
