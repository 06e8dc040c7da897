// Package voice turns mail text into spoken audio: a rewrite pass that
// makes the body listenable, speech synthesis, and durable audio storage.
package voice

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Transformer rewrites a raw mail body into text suited for listening.
type Transformer interface {
	Transform(ctx context.Context, senderName, body string) (string, error)
}

const rewritePrompt = `You rewrite emails so they can be read aloud.
Summarize greetings and signatures, drop links and boilerplate, and keep
the substance in short spoken-language sentences. Start by saying who the
message is from. Reply with the rewritten text only.`

type OpenAITransformer struct {
	client *openai.Client
	logger *log.Logger
	model  string
}

func NewOpenAITransformer(logger *log.Logger, apiKey, baseURL, model string) *OpenAITransformer {
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)
	return &OpenAITransformer{
		client: &client,
		logger: logger,
		model:  model,
	}
}

func (t *OpenAITransformer) Transform(ctx context.Context, senderName, body string) (string, error) {
	completion, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(rewritePrompt),
			openai.UserMessage(fmt.Sprintf("From: %s\n\n%s", senderName, body)),
		},
		Model: t.model,
	})
	if err != nil {
		return "", fmt.Errorf("failed to rewrite message: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("rewrite returned no completion choices")
	}
	return completion.Choices[0].Message.Content, nil
}
