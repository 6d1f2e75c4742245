package agent

import (
	"context"
	"strings"
)

// DefaultDirectPrompt is the system prompt for replies that need no tools.
const DefaultDirectPrompt = "你是一个群聊机器人，要简短有趣地回复"

// DirectAnswerer produces a reply in a single call.
type DirectAnswerer interface {
	Answer(ctx context.Context, input string) (string, error)
}

// DirectConfig configures an LLMDirectAnswerer.
type DirectConfig struct {
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// LLMDirectAnswerer answers with one model call and no history.
type LLMDirectAnswerer struct {
	provider LLMProvider
	cfg      DirectConfig
}

// NewLLMDirectAnswerer creates a direct answerer backed by provider.
func NewLLMDirectAnswerer(provider LLMProvider, cfg DirectConfig) *LLMDirectAnswerer {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultDirectPrompt
	}
	return &LLMDirectAnswerer{provider: provider, cfg: cfg}
}

// Answer returns the model's reply. A blank reply is ErrEmptyAnswer.
func (d *LLMDirectAnswerer) Answer(ctx context.Context, input string) (string, error) {
	resp, err := d.provider.Call(ctx, LLMRequest{
		Model:        d.cfg.Model,
		SystemPrompt: d.cfg.SystemPrompt,
		Messages:     []Message{{Role: RoleUser, Content: input}},
		Temperature:  d.cfg.Temperature,
		MaxTokens:    d.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", ErrEmptyAnswer
	}
	return text, nil
}
