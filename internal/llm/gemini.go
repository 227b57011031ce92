package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/roombot/internal/errors"
)

const geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta"

// geminiAliases maps dashboard model names onto API model names.
var geminiAliases = map[string]string{
	"gemini-flash-latest": "gemini-1.5-flash",
}

// GeminiModelName returns the API model name for a configured model.
func GeminiModelName(model string) string {
	if alias, ok := geminiAliases[model]; ok {
		return alias
	}
	return model
}

// GeminiProvider implements Provider using the generateContent API.
type GeminiProvider struct {
	baseURL   string
	maxTokens int
	client    HTTPClient
	logger    zerolog.Logger
}

// NewGeminiProvider constructs the generative family provider.
func NewGeminiProvider(opts ...Option) *GeminiProvider {
	o := applyOptions(geminiAPIBase, opts)
	return &GeminiProvider{
		baseURL:   o.baseURL,
		maxTokens: o.maxTokens,
		client:    o.client,
		logger:    o.logger.With().Str("component", "gemini").Logger(),
	}
}

func (p *GeminiProvider) Family() Family { return GenerativeFamily }

// ---- Gemini wire types ----

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Complete sends a blocking generateContent request. The system prompt is
// folded into a single user turn.
func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := GeminiModelName(req.Model)

	gr := geminiRequest{
		Contents: []geminiContent{{
			Role:  RoleUser,
			Parts: []geminiPart{{Text: fmt.Sprintf("%s\n\nUser: %s", req.SystemPrompt, req.UserMessage)}},
		}},
	}
	gr.GenerationConfig.MaxOutputTokens = p.maxTokens
	if req.MaxTokens > 0 {
		gr.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}

	body, err := json.Marshal(gr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", req.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var gresp geminiResponse
	if err := json.Unmarshal(raw, &gresp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, perrors.NewAPIError("gemini", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if gresp.Error != nil || resp.StatusCode >= 400 {
		msg := resp.Status
		if gresp.Error != nil {
			msg = gresp.Error.Status + ": " + gresp.Error.Message
		}
		return nil, perrors.NewAPIError("gemini", resp.StatusCode, msg)
	}

	var sb strings.Builder
	if len(gresp.Candidates) > 0 {
		for _, part := range gresp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("empty response from gemini")
	}

	out := &CompletionResponse{
		Text:         text,
		Model:        model,
		InputTokens:  gresp.UsageMetadata.PromptTokenCount,
		OutputTokens: gresp.UsageMetadata.CandidatesTokenCount,
	}
	p.logger.Debug().
		Str("model", model).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("gemini complete")
	return out, nil
}
