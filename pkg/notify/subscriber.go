package notify

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
)

// SubjectMailNotification carries decoded push notifications from the
// webhook handler to the background pipeline.
const SubjectMailNotification = "mail.notification"

// Notification is the payload published on SubjectMailNotification.
type Notification struct {
	EmailAddress  string `json:"emailAddress"`
	HistoryCursor string `json:"historyCursor"`
}

// Subscribe wires the pipeline to the notification subject. Each delivery
// runs detached with a background context: the webhook request that
// triggered it has already been answered, so nothing cancels this work.
func Subscribe(nc *nats.Conn, logger *log.Logger, pipeline *Pipeline) (*nats.Subscription, error) {
	return nc.Subscribe(SubjectMailNotification, func(msg *nats.Msg) {
		var notification Notification
		if err := json.Unmarshal(msg.Data, &notification); err != nil {
			logger.Error("failed to decode notification payload", "error", err)
			return
		}

		go func() {
			outcome := pipeline.Handle(context.Background(), notification.EmailAddress, notification.HistoryCursor)
			if outcome.Reason != "" {
				logger.Warn("notification aborted", "email", notification.EmailAddress, "reason", outcome.Reason)
			}
		}()
	})
}
