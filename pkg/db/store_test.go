package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestUserLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	missing, err := store.GetUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	user, err := store.CreateUser(ctx, "user@example.com")
	require.NoError(t, err)

	found, err := store.GetUserByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, user.ID, found.ID)
}

func TestConnectionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, "user@example.com")
	require.NoError(t, err)

	missing, err := store.GetConnection(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	expiresAt := time.Now().Add(time.Hour).UTC()
	err = store.SetConnection(ctx, MailConnection{
		UserID:        user.ID,
		AccessToken:   "access",
		RefreshToken:  "refresh",
		TokenType:     "Bearer",
		ExpiresAt:     &expiresAt,
		HistoryCursor: "100",
	})
	require.NoError(t, err)

	conn, err := store.GetConnection(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, "access", conn.AccessToken)
	assert.Equal(t, "100", conn.HistoryCursor)

	require.NoError(t, store.UpdateHistoryCursor(ctx, user.ID, "200"))
	newExpiry := time.Now().Add(time.Hour).UTC()
	require.NoError(t, store.UpdateTokens(ctx, user.ID, "access2", "refresh2", "Bearer", &newExpiry))

	conn, err = store.GetConnection(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "access2", conn.AccessToken)
	// Token update must not disturb the cursor.
	assert.Equal(t, "200", conn.HistoryCursor)
}

func TestContactAllowListExactMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, "user@example.com")
	require.NoError(t, err)

	_, err = store.AddContact(ctx, user.ID, "alice@example.com", nil)
	require.NoError(t, err)

	allowed, err := store.IsContactAllowed(ctx, user.ID, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Matching is exact and case-sensitive.
	allowed, err = store.IsContactAllowed(ctx, user.ID, "Alice@example.com")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = store.IsContactAllowed(ctx, "other-user", "alice@example.com")
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, store.RemoveContact(ctx, user.ID, "alice@example.com"))
	allowed, err = store.IsContactAllowed(ctx, user.ID, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestMessageUniqueProviderID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, "user@example.com")
	require.NoError(t, err)

	msg := Message{
		ID:                uuid.New().String(),
		UserID:            user.ID,
		ProviderMessageID: "m1",
		SenderEmail:       "alice@example.com",
	}
	require.NoError(t, store.CreateMessage(ctx, msg))

	dup := msg
	dup.ID = uuid.New().String()
	err = store.CreateMessage(ctx, dup)
	require.Error(t, err)

	exists, err := store.MessageExists(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, exists)

	msgs, err := store.ListMessages(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMessageConversionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, "user@example.com")
	require.NoError(t, err)

	id := uuid.New().String()
	require.NoError(t, store.CreateMessage(ctx, Message{
		ID:                id,
		UserID:            user.ID,
		ProviderMessageID: "m1",
		SenderEmail:       "alice@example.com",
	}))

	msg, err := store.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, msg.ProcessingStatus)
	assert.Nil(t, msg.ConvertedBody)
	assert.Nil(t, msg.AudioRef)

	// Transform done, synthesis not yet: still pending.
	require.NoError(t, store.SetConvertedBody(ctx, id, "spoken text"))
	msg, err = store.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, msg.ProcessingStatus)
	require.NotNil(t, msg.ConvertedBody)
	assert.Equal(t, "spoken text", *msg.ConvertedBody)

	require.NoError(t, store.CompleteMessage(ctx, id, "audio/ref.mp3"))
	msg, err = store.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, msg.ProcessingStatus)
	require.NotNil(t, msg.AudioRef)
	assert.Equal(t, "audio/ref.mp3", *msg.AudioRef)
}

func TestMarkRepliedFirstWriterWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, "user@example.com")
	require.NoError(t, err)

	id := uuid.New().String()
	require.NoError(t, store.CreateMessage(ctx, Message{
		ID:                id,
		UserID:            user.ID,
		ProviderMessageID: "m1",
		SenderEmail:       "alice@example.com",
	}))

	unresolved, err := store.ListUnresolved(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)

	set, err := store.MarkRepliedIfUnset(ctx, id, time.Now(), ReplySourceInternal)
	require.NoError(t, err)
	assert.True(t, set)

	// The reconciler arriving later must not overwrite the source.
	set, err = store.MarkRepliedIfUnset(ctx, id, time.Now(), ReplySourceProvider)
	require.NoError(t, err)
	assert.False(t, set)

	msg, err := store.GetMessage(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, msg.ReplySource)
	assert.Equal(t, ReplySourceInternal, *msg.ReplySource)

	unresolved, err = store.ListUnresolved(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
}
