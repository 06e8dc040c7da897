package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
	"google.golang.org/api/gmail/v1"

	"github.com/EchoPostAI/echopost/pkg/db"
)

var errNotConnected = errors.New("user has no mail connection")

type exchangeRequest struct {
	Code string `json:"code"`
}

// handleOAuthExchange finishes the connect flow: exchange the code, learn
// the mailbox address from the provider, persist the connection and arm
// the push watch.
func (s *Server) handleOAuthExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	ctx := r.Context()
	tokenResp, err := s.tokens.ExchangeCode(ctx, req.Code)
	if err != nil {
		s.logger.Error("code exchange failed", "error", err)
		writeError(w, http.StatusBadGateway, "code exchange failed")
		return
	}

	client, err := s.newProviderClient(ctx, tokenResp.AccessToken)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to reach provider")
		return
	}

	email, err := client.Profile(ctx)
	if err != nil {
		s.logger.Error("profile lookup failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to resolve mailbox address")
		return
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "user lookup failed")
		return
	}
	if user == nil {
		user, err = s.store.CreateUser(ctx, email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "user creation failed")
			return
		}
	}

	expiresAt := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	conn := db.MailConnection{
		UserID:       user.ID,
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		ExpiresAt:    &expiresAt,
	}

	// Arm the push watch. The watch hands back the cursor notifications
	// will count from; a failure here still leaves a usable connection.
	cursor, watchExpiration, err := client.Watch(ctx, s.cfg.PubSubTopic)
	if err != nil {
		s.logger.Error("failed to start watch", "user_id", user.ID, "error", err)
	} else {
		conn.HistoryCursor = cursor
		conn.WatchExpiration = &watchExpiration
	}

	if err := s.store.SetConnection(ctx, conn); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save connection")
		return
	}

	s.logger.Info("mail connection established", "user_id", user.ID, "email", email)
	writeJSON(w, http.StatusOK, map[string]string{"user_id": user.ID, "email": email})
}

// handleRenewWatches re-arms the provider watch for every connected user.
// Called by an external scheduler; authenticated with a shared secret.
// Stored history cursors are left untouched.
func (s *Server) handleRenewWatches(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Maintenance-Key") != s.cfg.MaintenanceKey {
		writeError(w, http.StatusUnauthorized, "invalid maintenance key")
		return
	}

	ctx := r.Context()
	conns, err := s.store.ListConnections(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list connections")
		return
	}

	renewed, failed := 0, 0
	for _, conn := range conns {
		client, _, err := s.connectionClient(ctx, conn.UserID)
		if err != nil {
			s.logger.Error("watch renewal skipped", "user_id", conn.UserID, "error", err)
			failed++
			continue
		}
		_, watchExpiration, err := client.Watch(ctx, s.cfg.PubSubTopic)
		if err != nil {
			s.logger.Error("watch renewal failed", "user_id", conn.UserID, "error", err)
			failed++
			continue
		}
		if err := s.store.UpdateWatchExpiration(ctx, conn.UserID, watchExpiration); err != nil {
			s.logger.Error("failed to save watch expiration", "user_id", conn.UserID, "error", err)
		}
		renewed++
	}

	s.logger.Info("watch renewal sweep finished", "renewed", renewed, "failed", failed)
	writeJSON(w, http.StatusOK, map[string]int{"renewed": renewed, "failed": failed})
}

type addContactRequest struct {
	Email string  `json:"email"`
	Name  *string `json:"name,omitempty"`
}

func (s *Server) handleAddContact(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req addContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	contact, err := s.store.AddContact(r.Context(), userID, req.Email, req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add contact")
		return
	}
	writeJSON(w, http.StatusCreated, contact)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	contacts, err := s.store.ListContacts(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	email := chi.URLParam(r, "email")
	if err := s.store.RemoveContact(r.Context(), userID, email); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove contact")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// handleListMessages returns the user's stored messages and kicks off a
// detached reply-sync pass over the unresolved ones.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	messages, err := s.store.ListMessages(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	go func() {
		ctx := context.Background()
		client, _, err := s.connectionClient(ctx, userID)
		if err != nil {
			s.logger.Debug("reply sync skipped", "user_id", userID, "error", err)
			return
		}
		updated, err := s.reconciler.Sync(ctx, userID, client)
		if err != nil {
			s.logger.Error("reply sync failed", "user_id", userID, "error", err)
			return
		}
		if updated > 0 {
			s.logger.Info("reply sync resolved messages", "user_id", userID, "updated", updated)
		}
	}()

	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	message, err := s.store.GetMessage(r.Context(), messageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if message == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, message)
}

type replyRequest struct {
	Body  string `json:"body"`
	Draft bool   `json:"draft,omitempty"`
}

// handleReply sends (or drafts) a threaded reply to a stored message and
// marks it replied with source internal. The check-before-set shares the
// first-writer-wins rule with the reconciler.
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}

	ctx := r.Context()
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if message == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	user, err := s.store.GetUserByID(ctx, message.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve user")
		return
	}

	client, _, err := s.connectionClient(ctx, message.UserID)
	if err != nil {
		if errors.Is(err, errNotConnected) {
			writeError(w, http.StatusConflict, "user has no mail connection")
			return
		}
		writeError(w, http.StatusBadGateway, "failed to reach provider")
		return
	}

	original, err := client.FetchMessage(ctx, message.ProviderMessageID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch original message")
		return
	}

	to := headerValue(original, "From")
	subject := headerValue(original, "Subject")
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	inReplyTo := headerValue(original, "Message-ID")
	references := headerValue(original, "References")

	if req.Draft {
		if _, err := client.CreateDraft(ctx, user.Email, to, subject, req.Body, inReplyTo, references); err != nil {
			writeError(w, http.StatusBadGateway, "failed to create draft")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "drafted"})
		return
	}

	if _, err := client.Send(ctx, user.Email, to, subject, req.Body, inReplyTo, references); err != nil {
		writeError(w, http.StatusBadGateway, "failed to send reply")
		return
	}

	if _, err := s.store.MarkRepliedIfUnset(ctx, message.ID, time.Now(), db.ReplySourceInternal); err != nil {
		s.logger.Error("failed to mark message replied", "message_id", message.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func headerValue(msg *gmail.Message, name string) string {
	if msg == nil || msg.Payload == nil {
		return ""
	}
	for _, header := range msg.Payload.Headers {
		if header.Name == name {
			return header.Value
		}
	}
	return ""
}
