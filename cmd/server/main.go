package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/EchoPostAI/echopost/pkg/auth"
	"github.com/EchoPostAI/echopost/pkg/bootstrap"
	"github.com/EchoPostAI/echopost/pkg/config"
	"github.com/EchoPostAI/echopost/pkg/db"
	"github.com/EchoPostAI/echopost/pkg/gmailapi"
	"github.com/EchoPostAI/echopost/pkg/notify"
	"github.com/EchoPostAI/echopost/pkg/replysync"
	"github.com/EchoPostAI/echopost/pkg/server"
	"github.com/EchoPostAI/echopost/pkg/voice"
)

func main() {
	logger := bootstrap.NewLogger()

	envs, err := config.LoadConfig(true)
	if err != nil {
		panic(errors.Wrap(err, "Unable to load config"))
	}
	logger.Info("Using database path", "path", envs.DBPath)

	natsServer, err := bootstrap.StartEmbeddedNATSServer(logger)
	if err != nil {
		panic(errors.Wrap(err, "Unable to start nats server"))
	}
	defer natsServer.Shutdown()

	nc, err := bootstrap.NewNatsClient()
	if err != nil {
		panic(errors.Wrap(err, "Unable to create nats client"))
	}
	logger.Info("NATS client started")

	store, err := db.NewStore(envs.DBPath)
	if err != nil {
		logger.Error("Unable to create or initialize database", "error", err)
		panic(errors.Wrap(err, "Unable to create or initialize database"))
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Error closing store", slog.Any("error", err))
		}
	}()
	logger.Info("SQLite database initialized")

	tokens := auth.NewManager(logger, envs.OAuthClientID, envs.OAuthClientSecret, envs.OAuthRedirectURI)

	transformer := voice.NewOpenAITransformer(logger, envs.CompletionsAPIKey, envs.CompletionsAPIURL, envs.CompletionsModel)
	synthesizer := voice.NewSpeechClient(logger, envs.SpeechEndpoint, envs.CompletionsAPIKey, envs.SpeechModel, envs.SpeechVoice)
	audioStore, err := voice.NewAudioStore(envs.AudioOutputPath)
	if err != nil {
		panic(errors.Wrap(err, "Unable to create audio store"))
	}

	processor := notify.NewProcessor(logger, store, transformer, synthesizer, audioStore)
	resolver := notify.NewResolver(logger)
	clientFactory := func(ctx context.Context, accessToken string) (notify.MailClient, error) {
		return gmailapi.NewClient(ctx, logger, accessToken)
	}
	pipeline := notify.NewPipeline(logger, store, tokens, resolver, processor, clientFactory)

	sub, err := notify.Subscribe(nc, logger, pipeline)
	if err != nil {
		panic(errors.Wrap(err, "Unable to subscribe to notifications"))
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			logger.Error("Error unsubscribing", slog.Any("error", err))
		}
	}()

	reconciler := replysync.NewReconciler(logger, store)
	dedup := notify.NewMemoryDeduplicator()

	srv := server.New(logger, envs, store, dedup, nc, tokens, reconciler)
	httpServer := &http.Server{
		Addr:    ":" + envs.HTTPPort,
		Handler: srv.Router(),
	}

	go func() {
		logger.Info("Starting HTTP server", "address", "http://localhost:"+envs.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	if err := httpServer.Shutdown(context.Background()); err != nil {
		logger.Error("Error shutting down HTTP server", "error", err)
	}
}
