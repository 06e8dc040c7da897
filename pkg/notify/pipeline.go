package notify

import (
	"context"
	"strconv"

	"github.com/charmbracelet/log"
	"google.golang.org/api/gmail/v1"

	"github.com/EchoPostAI/echopost/pkg/db"
)

// MailClient is the provider surface the pipeline needs.
type MailClient interface {
	HistoryClient
	FetchMessage(ctx context.Context, id string) (*gmail.Message, error)
}

// ClientFactory builds a provider client over a valid access token.
type ClientFactory func(ctx context.Context, accessToken string) (MailClient, error)

// TokenEnsurer hands back a usable credential, refreshing when needed.
type TokenEnsurer interface {
	EnsureValid(ctx context.Context, conn *db.MailConnection) (*db.MailConnection, bool, error)
}

// Pipeline handles one acknowledged notification end to end. It runs in the
// background after the webhook response has been sent and owns no
// transport-level reply.
type Pipeline struct {
	logger    *log.Logger
	store     *db.Store
	tokens    TokenEnsurer
	resolver  *Resolver
	processor *Processor
	newClient ClientFactory
}

func NewPipeline(logger *log.Logger, store *db.Store, tokens TokenEnsurer, resolver *Resolver, processor *Processor, newClient ClientFactory) *Pipeline {
	return &Pipeline{
		logger:    logger,
		store:     store,
		tokens:    tokens,
		resolver:  resolver,
		processor: processor,
		newClient: newClient,
	}
}

// Handle processes the notification for one user and cursor. Message-level
// failures are logged and counted; they never abort the rest of the batch.
func (p *Pipeline) Handle(ctx context.Context, userEmail, historyCursor string) Outcome {
	user, err := p.store.GetUserByEmail(ctx, userEmail)
	if err != nil {
		p.logger.Error("user lookup failed", "email", userEmail, "error", err)
		return abortedOutcome(SkipUserNotFound)
	}
	if user == nil {
		p.logger.Warn("notification for unknown user", "email", userEmail)
		return abortedOutcome(SkipUserNotFound)
	}

	conn, err := p.store.GetConnection(ctx, user.ID)
	if err != nil {
		p.logger.Error("connection lookup failed", "user_id", user.ID, "error", err)
		return abortedOutcome(SkipNotConnected)
	}
	if conn == nil {
		p.logger.Warn("notification for user without connection", "user_id", user.ID)
		return abortedOutcome(SkipNotConnected)
	}

	conn, changed, err := p.tokens.EnsureValid(ctx, conn)
	if err != nil {
		p.logger.Error("token refresh failed", "user_id", user.ID, "error", err)
		return abortedOutcome(SkipTokenRefreshFailed)
	}
	if changed {
		if err := p.store.UpdateTokens(ctx, conn.UserID, conn.AccessToken, conn.RefreshToken, conn.TokenType, conn.ExpiresAt); err != nil {
			p.logger.Error("failed to persist refreshed tokens", "user_id", user.ID, "error", err)
		}
	}

	client, err := p.newClient(ctx, conn.AccessToken)
	if err != nil {
		p.logger.Error("failed to build provider client", "user_id", user.ID, "error", err)
		return abortedOutcome(SkipProviderError)
	}

	ids, err := p.resolver.Resolve(ctx, client, historyCursor)
	if err != nil {
		p.logger.Error("change-set resolution failed", "user_id", user.ID, "cursor", historyCursor, "error", err)
		return abortedOutcome(SkipProviderError)
	}

	outcome := Outcome{}
	for _, id := range ids {
		raw, err := client.FetchMessage(ctx, id)
		if err != nil {
			p.logger.Error("message fetch failed", "user_id", user.ID, "message_id", id, "error", err)
			outcome.Skipped++
			continue
		}

		result, err := p.processor.Process(ctx, user.ID, raw)
		if err != nil {
			p.logger.Error("message processing failed", "user_id", user.ID, "message_id", id, "error", err)
			outcome.Skipped++
			continue
		}
		if result.Stored {
			outcome.Processed++
		} else {
			p.logger.Debug("message skipped", "user_id", user.ID, "message_id", id, "reason", result.SkipReason)
			outcome.Skipped++
		}
	}

	// The cursor only advances; a stale notification must not rewind it.
	if cursorAfter(historyCursor, conn.HistoryCursor) {
		if err := p.store.UpdateHistoryCursor(ctx, user.ID, historyCursor); err != nil {
			p.logger.Error("failed to advance history cursor", "user_id", user.ID, "error", err)
		}
	}

	p.logger.Info("notification handled", "user_id", user.ID, "processed", outcome.Processed, "skipped", outcome.Skipped)
	return outcome
}

// cursorAfter compares two numeric history cursors. Unparsable values
// never advance the stored cursor.
func cursorAfter(candidate, current string) bool {
	next, err := strconv.ParseUint(candidate, 10, 64)
	if err != nil {
		return false
	}
	if current == "" {
		return true
	}
	prev, err := strconv.ParseUint(current, 10, 64)
	if err != nil {
		return true
	}
	return next > prev
}
