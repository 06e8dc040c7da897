// Package notify implements the push-notification processing pipeline:
// webhook deduplication, change-set resolution against the history cursor,
// and idempotent per-message conversion.
package notify

// Skip reasons, surfaced in outcomes and logs. The first four abort a whole
// notification; the rest apply to individual messages.
const (
	SkipUserNotFound       = "user_not_found"
	SkipNotConnected       = "not_connected"
	SkipTokenRefreshFailed = "token_refresh_failed"
	SkipProviderError      = "provider_error"
	SkipSenderNotAllowed   = "sender_not_allowed"
	SkipAlreadyExists      = "already_exists"
	SkipFetchFailed        = "fetch_failed"
)

// Outcome aggregates one notification's processing. It is returned and
// logged, never persisted.
type Outcome struct {
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
}

func abortedOutcome(reason string) Outcome {
	return Outcome{Reason: reason}
}
