package notify

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"google.golang.org/api/gmail/v1"

	"github.com/EchoPostAI/echopost/pkg/db"
	"github.com/EchoPostAI/echopost/pkg/gmailapi"
	"github.com/EchoPostAI/echopost/pkg/voice"
)

// AudioSaver persists synthesized audio and returns the stored reference.
type AudioSaver interface {
	Save(messageID string, audio []byte) (string, error)
}

// ProcessResult reports what happened to one message. SkipReason is set
// only when no record was created.
type ProcessResult struct {
	Stored     bool
	SkipReason string
}

// Processor drives one message through gate → store → rewrite → synthesize.
type Processor struct {
	logger      *log.Logger
	store       *db.Store
	transformer voice.Transformer
	synthesizer voice.Synthesizer
	audio       AudioSaver
}

func NewProcessor(logger *log.Logger, store *db.Store, transformer voice.Transformer, synthesizer voice.Synthesizer, audio AudioSaver) *Processor {
	return &Processor{
		logger:      logger,
		store:       store,
		transformer: transformer,
		synthesizer: synthesizer,
		audio:       audio,
	}
}

// Process runs the conversion pipeline for one fetched message. The gates
// before record creation can skip or fail; once the record exists, backend
// failures only degrade it to a resumable pending state and are not
// returned to the caller.
func (p *Processor) Process(ctx context.Context, userID string, raw *gmail.Message) (ProcessResult, error) {
	inbound := gmailapi.Translate(raw)
	if inbound.ProviderMessageID == "" {
		return ProcessResult{}, fmt.Errorf("message has no provider id")
	}

	allowed, err := p.store.IsContactAllowed(ctx, userID, inbound.SenderEmail)
	if err != nil {
		return ProcessResult{}, err
	}
	if !allowed {
		p.logger.Debug("sender not in allow-list", "user_id", userID, "sender", inbound.SenderEmail)
		return ProcessResult{SkipReason: SkipSenderNotAllowed}, nil
	}

	exists, err := p.store.MessageExists(ctx, inbound.ProviderMessageID)
	if err != nil {
		return ProcessResult{}, err
	}
	if exists {
		return ProcessResult{SkipReason: SkipAlreadyExists}, nil
	}

	record := db.Message{
		ID:                uuid.New().String(),
		UserID:            userID,
		ProviderMessageID: inbound.ProviderMessageID,
	}
	if inbound.ThreadID != "" {
		record.ThreadID = &inbound.ThreadID
	}
	record.SenderEmail = inbound.SenderEmail
	if inbound.SenderName != "" {
		record.SenderName = &inbound.SenderName
	}
	if inbound.Subject != "" {
		record.Subject = &inbound.Subject
	}
	if inbound.Body != "" {
		record.Body = &inbound.Body
	}
	if !inbound.ReceivedAt.IsZero() {
		receivedAt := inbound.ReceivedAt
		record.ReceivedAt = &receivedAt
	}

	if err := p.store.CreateMessage(ctx, record); err != nil {
		// A concurrent insert hitting the unique constraint is the same
		// outcome as the existence check firing.
		if recheck, checkErr := p.store.MessageExists(ctx, inbound.ProviderMessageID); checkErr == nil && recheck {
			return ProcessResult{SkipReason: SkipAlreadyExists}, nil
		}
		return ProcessResult{}, err
	}

	// From here on nothing propagates upward; the record stays pending and
	// a later retry sweep picks it up.
	converted, err := p.transformer.Transform(ctx, inbound.SenderName, inbound.Body)
	if err != nil {
		p.logger.Error("rewrite failed, record left pending", "message_id", record.ID, "error", err)
		return ProcessResult{Stored: true}, nil
	}
	if err := p.store.SetConvertedBody(ctx, record.ID, converted); err != nil {
		p.logger.Error("failed to save converted body", "message_id", record.ID, "error", err)
		return ProcessResult{Stored: true}, nil
	}

	audio, err := p.synthesizer.Synthesize(ctx, converted)
	if err != nil {
		p.logger.Error("synthesis failed, record left pending", "message_id", record.ID, "error", err)
		return ProcessResult{Stored: true}, nil
	}
	audioRef, err := p.audio.Save(record.ID, audio)
	if err != nil {
		p.logger.Error("failed to store audio, record left pending", "message_id", record.ID, "error", err)
		return ProcessResult{Stored: true}, nil
	}

	if err := p.store.CompleteMessage(ctx, record.ID, audioRef); err != nil {
		p.logger.Error("failed to complete message", "message_id", record.ID, "error", err)
	}
	return ProcessResult{Stored: true}, nil
}
