// Package gmailapi wraps the Gmail API surface EchoPost needs: history
// reconciliation, message and thread fetches, sending, and push watches.
package gmailapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

type Client struct {
	logger  *log.Logger
	service *gmail.Service
}

// NewClient builds a Gmail client over the given access token. The token
// must already be valid; refreshing is the caller's concern.
func NewClient(ctx context.Context, logger *log.Logger, accessToken string) (*Client, error) {
	token := &oauth2.Token{
		AccessToken: accessToken,
	}

	config := oauth2.Config{}
	httpClient := config.Client(ctx, token)

	service, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gmail service: %w", err)
	}

	return &Client{logger: logger, service: service}, nil
}

func (c *Client) Profile(ctx context.Context) (string, error) {
	profile, err := c.service.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get profile: %w", err)
	}
	return profile.EmailAddress, nil
}

// Search returns message ids matching a Gmail query string.
func (c *Client) Search(ctx context.Context, query string, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	resp, err := c.service.Users.Messages.List("me").Q(query).MaxResults(limit).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// ListRecent returns the ids of the newest inbox messages.
func (c *Client) ListRecent(ctx context.Context, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	resp, err := c.service.Users.Messages.List("me").LabelIds("INBOX").MaxResults(limit).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (c *Client) FetchMessage(ctx context.Context, id string) (*gmail.Message, error) {
	msg, err := c.service.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message '%s': %w", id, err)
	}
	return msg, nil
}

// FetchHistory pages through history records added since the cursor. A
// cursor that is already the newest yields an empty slice, not an error.
func (c *Client) FetchHistory(ctx context.Context, cursor string) ([]*gmail.History, error) {
	startID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid history cursor '%s': %w", cursor, err)
	}

	var histories []*gmail.History
	pageToken := ""
	for {
		call := c.service.Users.History.List("me").
			StartHistoryId(startID).
			HistoryTypes("messageAdded").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list history from cursor '%s': %w", cursor, err)
		}
		histories = append(histories, resp.History...)
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return histories, nil
}

func (c *Client) FetchThread(ctx context.Context, threadID string) (*gmail.Thread, error) {
	thread, err := c.service.Users.Threads.Get("me", threadID).Format("metadata").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch thread '%s': %w", threadID, err)
	}
	return thread, nil
}

// Send sends a plain-text message. When inReplyTo is set the threading
// headers are added so the provider files it into the conversation.
func (c *Client) Send(ctx context.Context, from, to, subject, body, inReplyTo, references string) (*gmail.Message, error) {
	message := buildRawMessage(from, to, subject, body, inReplyTo, references)
	sent, err := c.service.Users.Messages.Send("me", message).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return sent, nil
}

// CreateDraft stores the message as a draft instead of sending it.
func (c *Client) CreateDraft(ctx context.Context, from, to, subject, body, inReplyTo, references string) (*gmail.Draft, error) {
	message := buildRawMessage(from, to, subject, body, inReplyTo, references)
	draft, err := c.service.Users.Drafts.Create("me", &gmail.Draft{Message: message}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}
	return draft, nil
}

// Watch arms push notifications for the inbox and returns the cursor the
// provider will count from plus the watch expiration.
func (c *Client) Watch(ctx context.Context, topic string) (string, time.Time, error) {
	resp, err := c.service.Users.Watch("me", &gmail.WatchRequest{
		TopicName: topic,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to start watch: %w", err)
	}
	return strconv.FormatUint(resp.HistoryId, 10), time.UnixMilli(resp.Expiration), nil
}

func (c *Client) StopWatch(ctx context.Context) error {
	if err := c.service.Users.Stop("me").Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to stop watch: %w", err)
	}
	return nil
}

func buildRawMessage(from, to, subject, body, inReplyTo, references string) *gmail.Message {
	header := make(map[string]string)
	header["From"] = from
	header["To"] = to
	header["Subject"] = subject
	header["MIME-Version"] = "1.0"
	header["Content-Type"] = "text/plain; charset=\"utf-8\""

	// Threading headers so the provider files the reply into the thread.
	if inReplyTo != "" {
		header["In-Reply-To"] = inReplyTo
		if references != "" {
			header["References"] = references + " " + inReplyTo
		} else {
			header["References"] = inReplyTo
		}
	}

	var message string
	for k, v := range header {
		message += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	message += "\r\n" + body

	return &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(message)),
	}
}
