package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/roombot/internal/botstore"
	perrors "github.com/p-blackswan/roombot/internal/errors"
)

// Generator picks a provider for the configured model and produces one
// short reply per incoming chat message.
type Generator struct {
	providers map[Family]Provider
	maxTokens int
	logger    zerolog.Logger
}

// NewGenerator registers providers by the family they report.
func NewGenerator(logger zerolog.Logger, maxTokens int, providers ...Provider) *Generator {
	g := &Generator{
		providers: make(map[Family]Provider, len(providers)),
		maxTokens: maxTokens,
		logger:    logger.With().Str("component", "generator").Logger(),
	}
	for _, p := range providers {
		g.providers[p.Family()] = p
	}
	return g
}

// Reply returns an AI reply for msg. It returns ErrUnavailable without any
// network call when AI is off, the family toggle is off, or the key is empty.
func (g *Generator) Reply(ctx context.Context, cfg *botstore.BotConfiguration, msg string) (string, error) {
	if cfg == nil || !cfg.AIEnabled {
		return "", fmt.Errorf("%w: ai disabled", perrors.ErrUnavailable)
	}

	model := cfg.Model()
	family, err := ResolveFamily(model)
	if err != nil {
		return "", err
	}

	var key string
	switch family {
	case ChatFamily:
		if !cfg.OpenAIAllowed() {
			return "", fmt.Errorf("%w: openai disabled", perrors.ErrUnavailable)
		}
		key = cfg.OpenAIAPIKey
	case GenerativeFamily:
		if !cfg.GeminiAllowed() {
			return "", fmt.Errorf("%w: gemini disabled", perrors.ErrUnavailable)
		}
		key = cfg.GeminiAPIKey
	}
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: no %s api key", perrors.ErrUnavailable, family)
	}

	p, ok := g.providers[family]
	if !ok {
		return "", fmt.Errorf("%w: no %s provider registered", perrors.ErrUnavailable, family)
	}

	resp, err := p.Complete(ctx, CompletionRequest{
		SystemPrompt: cfg.Prompt(),
		UserMessage:  msg,
		Model:        model,
		APIKey:       key,
		MaxTokens:    g.maxTokens,
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("family", family.String()).Str("model", model).Msg("completion failed")
		return "", &FailedError{Family: family, Reason: err}
	}
	return strings.TrimSpace(resp.Text), nil
}

// ResultLabel classifies a Reply error for logs and metrics.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, perrors.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, perrors.ErrUnknownModel):
		return "unknown_model"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "failed"
}

// FamilyLabel returns the family name for model, or "unknown".
func FamilyLabel(model string) string {
	f, _ := ResolveFamily(model)
	return f.String()
}
