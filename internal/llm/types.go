// Package llm defines the completion provider interface and its two backends:
// a chat-completion family and a generative family. Which one serves a request
// is decided once from the model identifier.
package llm

import (
	"context"
	"fmt"
	"strings"

	perrors "github.com/p-blackswan/roombot/internal/errors"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Family identifies a provider backend.
type Family int

const (
	FamilyUnknown Family = iota
	ChatFamily
	GenerativeFamily
)

func (f Family) String() string {
	switch f {
	case ChatFamily:
		return "chat"
	case GenerativeFamily:
		return "generative"
	}
	return "unknown"
}

// ResolveFamily maps a free-text model identifier onto a provider family.
func ResolveFamily(modelID string) (Family, error) {
	m := strings.ToLower(modelID)
	switch {
	case strings.Contains(m, "gpt"):
		return ChatFamily, nil
	case strings.Contains(m, "gemini"):
		return GenerativeFamily, nil
	}
	return FamilyUnknown, fmt.Errorf("%w: %q", perrors.ErrUnknownModel, modelID)
}

// Message is a single turn in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a provider's Complete() call.
type CompletionRequest struct {
	SystemPrompt string
	UserMessage  string
	Model        string
	APIKey       string
	MaxTokens    int
}

// CompletionResponse is returned by Complete().
type CompletionResponse struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is the core abstraction for language model backends.
type Provider interface {
	// Complete sends a completion request and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Family reports which backend family the provider implements.
	Family() Family
}

// FailedError wraps a transport or provider-side failure.
type FailedError struct {
	Family Family
	Reason error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%s provider failed: %v", e.Family, e.Reason)
}

func (e *FailedError) Unwrap() []error { return []error{perrors.ErrProviderFailed, e.Reason} }
