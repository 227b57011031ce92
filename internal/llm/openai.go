package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/roombot/internal/errors"
)

const (
	openAIAPIBase    = "https://api.openai.com/v1"
	defaultMaxTokens = 60
)

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// OpenAIProvider implements Provider using the chat completions API.
type OpenAIProvider struct {
	baseURL   string
	maxTokens int
	client    HTTPClient
	logger    zerolog.Logger
}

// Option configures a provider.
type Option func(*providerOptions)

type providerOptions struct {
	baseURL   string
	maxTokens int
	client    HTTPClient
	logger    zerolog.Logger
}

func WithBaseURL(u string) Option {
	return func(o *providerOptions) { o.baseURL = strings.TrimSuffix(u, "/") }
}

func WithMaxTokens(n int) Option {
	return func(o *providerOptions) { o.maxTokens = n }
}

func WithHTTPClient(c HTTPClient) Option {
	return func(o *providerOptions) { o.client = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *providerOptions) { o.logger = l }
}

func applyOptions(defaultBase string, opts []Option) providerOptions {
	o := providerOptions{
		baseURL:   defaultBase,
		maxTokens: defaultMaxTokens,
		client:    &http.Client{Timeout: 60 * time.Second},
		logger:    zerolog.Nop(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.baseURL == "" {
		o.baseURL = defaultBase
	}
	return o
}

// NewOpenAIProvider constructs the chat-completion family provider.
func NewOpenAIProvider(opts ...Option) *OpenAIProvider {
	o := applyOptions(openAIAPIBase, opts)
	return &OpenAIProvider{
		baseURL:   o.baseURL,
		maxTokens: o.maxTokens,
		client:    o.client,
		logger:    o.logger.With().Str("component", "openai").Logger(),
	}
}

func (p *OpenAIProvider) Family() Family { return ChatFamily }

// ---- OpenAI wire types ----

type openAIRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int     `json:"index"`
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a blocking chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	maxTok := p.maxTokens
	if req.MaxTokens > 0 {
		maxTok = req.MaxTokens
	}
	body, err := json.Marshal(openAIRequest{
		Model: req.Model,
		Messages: []Message{
			{Role: RoleSystem, Content: req.SystemPrompt},
			{Role: RoleUser, Content: req.UserMessage},
		},
		MaxTokens: maxTok,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var or openAIResponse
	if err := json.Unmarshal(raw, &or); err != nil {
		if resp.StatusCode >= 400 {
			return nil, perrors.NewAPIError("openai", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if or.Error != nil || resp.StatusCode >= 400 {
		msg := resp.Status
		if or.Error != nil {
			msg = or.Error.Type + ": " + or.Error.Message
		}
		return nil, perrors.NewAPIError("openai", resp.StatusCode, msg)
	}
	if len(or.Choices) == 0 {
		return nil, fmt.Errorf("empty response from openai")
	}

	out := &CompletionResponse{
		Text:         strings.TrimSpace(or.Choices[0].Message.Content),
		Model:        or.Model,
		InputTokens:  or.Usage.PromptTokens,
		OutputTokens: or.Usage.CompletionTokens,
	}
	p.logger.Debug().
		Str("model", req.Model).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("openai complete")
	return out, nil
}
