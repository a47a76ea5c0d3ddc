// Package openai implements the Translator interface on the OpenAI chat
// completion API, used as an alternate backend when no local model server
// is available.
package openai

import (
	"context"
	"fmt"
	"strings"

	gopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/zagan-the-gun/MenZ-FuguMT/internal/engine"
)

var languageNames = map[string]string{
	"en": "English",
	"ja": "Japanese",
}

// Engine translates through the OpenAI API.
type Engine struct {
	cfg    engine.Config
	client *gopenai.Client
	logger *zap.Logger
}

// New creates an OpenAI engine. cfg.APIKey must be set.
func New(cfg engine.Config, logger *zap.Logger) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai backend requires an api key")
	}
	return &Engine{
		cfg:    cfg,
		client: gopenai.NewClient(cfg.APIKey),
		logger: logger,
	}, nil
}

// Translate asks the chat completion API for a bare translation.
func (e *Engine) Translate(ctx context.Context, req engine.Request) (string, error) {
	src, ok := languageNames[req.SourceLang]
	if !ok {
		return "", fmt.Errorf("%w: %s", engine.ErrUnsupportedPair, req.Pair())
	}
	dst, ok := languageNames[req.TargetLang]
	if !ok {
		return "", fmt.Errorf("%w: %s", engine.ErrUnsupportedPair, req.Pair())
	}

	resp, err := e.client.CreateChatCompletion(ctx, gopenai.ChatCompletionRequest{
		Model: gopenai.GPT4oMini,
		Messages: []gopenai.ChatCompletionMessage{
			{
				Role: gopenai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(
					"You are a translation engine. Translate the user's text from %s to %s. Respond with only the translation, nothing else.",
					src, dst),
			},
			{
				Role:    gopenai.ChatMessageRoleUser,
				Content: req.Text,
			},
		},
		MaxTokens:   e.cfg.MaxLength,
		Temperature: float32(e.cfg.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai api returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Health runs a probe translation against the API.
func (e *Engine) Health(ctx context.Context) engine.Health {
	h := engine.Health{
		Device:         "api",
		ModelsLoaded:   1,
		SupportedPairs: e.Languages(),
	}
	if _, err := e.Translate(ctx, engine.Request{Text: "Hello", SourceLang: "en", TargetLang: "ja"}); err != nil {
		h.Error = fmt.Sprintf("test translation failed: %v", err)
		return h
	}
	h.TestTranslation = true
	h.Healthy = true
	return h
}

// Languages returns the pairs expressible from the known language names.
func (e *Engine) Languages() []string {
	return []string{"en-ja", "ja-en"}
}
