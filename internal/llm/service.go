package llm

import (
	"context"
	"errors"
	"fmt"

	"voicedesk/internal/config"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrAPIKeyMissing is the sentinel stored on a session when no
// provider credentials are configured. Handlers record it instead of
// failing the worker.
var ErrAPIKeyMissing = errors.New("openai_api_key_missing")

// Generator produces text for a pipeline processor. Handlers accept
// this interface so tests can swap in a fake.
type Generator interface {
	Generate(ctx context.Context, instructions, input string) (string, error)
}

// Service is the eino-backed text-generation client.
type Service struct {
	model model.BaseChatModel
}

// NewService builds the provider client. A missing API key returns
// ErrAPIKeyMissing so callers can record the sentinel.
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	if cfg == nil || cfg.OpenAI.APIKey == "" {
		return nil, ErrAPIKeyMissing
	}

	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		APIKey:  cfg.OpenAI.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	return &Service{model: chatModel}, nil
}

// Generate runs one instruction/input exchange and returns the raw
// completion text.
func (s *Service) Generate(ctx context.Context, instructions, input string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(instructions),
		schema.UserMessage(input),
	}
	out, err := s.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return out.Content, nil
}
