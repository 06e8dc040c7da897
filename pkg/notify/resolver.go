package notify

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"google.golang.org/api/gmail/v1"
)

// How many recent inbox messages to list when the history endpoint comes
// back empty.
const recentFallbackLimit = 5

// HistoryClient is the slice of the provider client the resolver needs.
type HistoryClient interface {
	FetchHistory(ctx context.Context, cursor string) ([]*gmail.History, error)
	ListRecent(ctx context.Context, limit int64) ([]string, error)
}

type Resolver struct {
	logger *log.Logger
}

func NewResolver(logger *log.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve flattens the history records since the cursor into an ordered,
// de-duplicated message id list. An empty result is normal (the cursor was
// already newest) and falls back to the most recent inbox messages so the
// triggering message is not dropped. Hard provider errors propagate with
// no fallback.
func (r *Resolver) Resolve(ctx context.Context, client HistoryClient, cursor string) ([]string, error) {
	histories, err := client.FetchHistory(ctx, cursor)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, history := range histories {
		for _, added := range history.MessagesAdded {
			if added.Message != nil && added.Message.Id != "" {
				ids = append(ids, added.Message.Id)
			}
		}
	}
	ids = lo.Uniq(ids)

	if len(ids) == 0 {
		r.logger.Debug("history returned no new messages, listing recent", "cursor", cursor)
		return client.ListRecent(ctx, recentFallbackLimit)
	}
	return ids, nil
}
