// Package replysync reconciles stored messages against their provider
// threads to detect replies the user sent from another mail client.
package replysync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"

	"github.com/EchoPostAI/echopost/pkg/db"
)

// ThreadClient is the slice of the provider client the reconciler needs.
type ThreadClient interface {
	FetchMessage(ctx context.Context, id string) (*gmail.Message, error)
	FetchThread(ctx context.Context, threadID string) (*gmail.Thread, error)
}

type Reconciler struct {
	logger *log.Logger
	store  *db.Store
}

func NewReconciler(logger *log.Logger, store *db.Store) *Reconciler {
	return &Reconciler{logger: logger, store: store}
}

// Sync marks the user's unresolved messages replied where the thread shows
// a user-sent message strictly after the message was received. Thread ids
// missing from old records are backfilled with one fetch per message;
// thread metadata is fetched once per distinct thread, fanned out
// concurrently. Returns how many records this run resolved.
func (r *Reconciler) Sync(ctx context.Context, userID string, client ThreadClient) (int, error) {
	messages, err := r.store.ListUnresolved(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	for i := range messages {
		if messages[i].ThreadID != nil && *messages[i].ThreadID != "" {
			continue
		}
		raw, err := client.FetchMessage(ctx, messages[i].ProviderMessageID)
		if err != nil {
			r.logger.Error("thread backfill fetch failed", "message_id", messages[i].ID, "error", err)
			continue
		}
		if raw.ThreadId == "" {
			continue
		}
		if err := r.store.SetThreadID(ctx, messages[i].ID, raw.ThreadId); err != nil {
			r.logger.Error("failed to save thread id", "message_id", messages[i].ID, "error", err)
			continue
		}
		threadID := raw.ThreadId
		messages[i].ThreadID = &threadID
	}

	byThread := make(map[string][]db.Message)
	for _, msg := range messages {
		if msg.ThreadID == nil || *msg.ThreadID == "" {
			continue
		}
		byThread[*msg.ThreadID] = append(byThread[*msg.ThreadID], msg)
	}

	var updated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for threadID, group := range byThread {
		threadID, group := threadID, group
		g.Go(func() error {
			thread, err := client.FetchThread(gctx, threadID)
			if err != nil {
				// One unreachable thread must not stall the others.
				r.logger.Error("thread fetch failed", "thread_id", threadID, "error", err)
				return nil
			}

			sentTimes := sentTimestamps(thread)
			for _, msg := range group {
				if msg.ReceivedAt == nil {
					continue
				}
				if !repliedAfter(sentTimes, *msg.ReceivedAt) {
					continue
				}
				set, err := r.store.MarkRepliedIfUnset(gctx, msg.ID, time.Now(), db.ReplySourceProvider)
				if err != nil {
					r.logger.Error("failed to mark message replied", "message_id", msg.ID, "error", err)
					continue
				}
				if set {
					updated.Add(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(updated.Load()), err
	}
	return int(updated.Load()), nil
}

// sentTimestamps collects the internal timestamps of the user's outbound
// messages in the thread.
func sentTimestamps(thread *gmail.Thread) []time.Time {
	var times []time.Time
	for _, msg := range thread.Messages {
		if msg == nil || msg.InternalDate == 0 {
			continue
		}
		if lo.Contains(msg.LabelIds, "SENT") {
			times = append(times, time.UnixMilli(msg.InternalDate))
		}
	}
	return times
}

// repliedAfter reports whether any sent timestamp lies strictly after the
// received instant. Strictness keeps an earlier reply in a multi-turn
// thread from resolving a message that arrived later.
func repliedAfter(sentTimes []time.Time, receivedAt time.Time) bool {
	for _, sent := range sentTimes {
		if sent.After(receivedAt) {
			return true
		}
	}
	return false
}
