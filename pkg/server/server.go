// Package server exposes the HTTP surface: Pub/Sub webhook intake, the
// OAuth connect flow, contact management, message read/reply paths and the
// watch renewal sweep.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi"
	"github.com/nats-io/nats.go"
	"github.com/rs/cors"

	"github.com/EchoPostAI/echopost/pkg/auth"
	"github.com/EchoPostAI/echopost/pkg/config"
	"github.com/EchoPostAI/echopost/pkg/db"
	"github.com/EchoPostAI/echopost/pkg/gmailapi"
	"github.com/EchoPostAI/echopost/pkg/notify"
	"github.com/EchoPostAI/echopost/pkg/replysync"
)

type Server struct {
	logger     *log.Logger
	cfg        *config.Config
	store      *db.Store
	dedup      notify.Deduplicator
	nc         *nats.Conn
	tokens     *auth.Manager
	reconciler *replysync.Reconciler
}

func New(logger *log.Logger, cfg *config.Config, store *db.Store, dedup notify.Deduplicator, nc *nats.Conn, tokens *auth.Manager, reconciler *replysync.Reconciler) *Server {
	return &Server{
		logger:     logger,
		cfg:        cfg,
		store:      store,
		dedup:      dedup,
		nc:         nc,
		tokens:     tokens,
		reconciler: reconciler,
	}
}

func (s *Server) Router() *chi.Mux {
	router := chi.NewRouter()
	router.Use(cors.New(cors.Options{
		AllowCredentials: true,
		AllowedOrigins:   []string{"*"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept"},
		Debug:            false,
	}).Handler)

	router.Post("/webhook/mail", s.handleWebhook)
	router.Post("/oauth/exchange", s.handleOAuthExchange)
	router.Post("/maintenance/renew-watches", s.handleRenewWatches)

	router.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/contacts", s.handleListContacts)
		r.Post("/contacts", s.handleAddContact)
		r.Delete("/contacts/{email}", s.handleRemoveContact)
		r.Get("/messages", s.handleListMessages)
	})
	router.Get("/messages/{messageID}", s.handleGetMessage)
	router.Post("/messages/{messageID}/reply", s.handleReply)

	return router
}

func (s *Server) newProviderClient(ctx context.Context, accessToken string) (*gmailapi.Client, error) {
	return gmailapi.NewClient(ctx, s.logger, accessToken)
}

// connectionClient returns a provider client over a valid token for the
// user, persisting the credential if the refresh rotated it.
func (s *Server) connectionClient(ctx context.Context, userID string) (*gmailapi.Client, *db.MailConnection, error) {
	conn, err := s.store.GetConnection(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if conn == nil {
		return nil, nil, errNotConnected
	}

	conn, changed, err := s.tokens.EnsureValid(ctx, conn)
	if err != nil {
		return nil, nil, err
	}
	if changed {
		if err := s.store.UpdateTokens(ctx, conn.UserID, conn.AccessToken, conn.RefreshToken, conn.TokenType, conn.ExpiresAt); err != nil {
			s.logger.Error("failed to persist refreshed tokens", "user_id", conn.UserID, "error", err)
		}
	}

	client, err := gmailapi.NewClient(ctx, s.logger, conn.AccessToken)
	if err != nil {
		return nil, nil, err
	}
	return client, conn, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
