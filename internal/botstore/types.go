package botstore

import (
	"strings"
	"time"
)

// Command is the desired action an operator sets on the bot record.
type Command string

const (
	CommandStop        Command = "STOP"
	CommandJoinRoom    Command = "JOIN_ROOM"
	CommandMonitorChat Command = "MONITOR_CHAT"
	CommandTestAI      Command = "TEST_AI"
)

// Known reports whether c is one of the commands the loop acts on.
func (c Command) Known() bool {
	switch c {
	case CommandStop, CommandJoinRoom, CommandMonitorChat, CommandTestAI:
		return true
	}
	return false
}

// Status is the lifecycle state reported back to the store.
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusWorking Status = "WORKING"
	StatusRunning Status = "RUNNING"
	StatusStopped Status = "STOPPED"
	StatusError   Status = "ERROR"
	StatusCrashed Status = "CRASHED"
)

// Defaults applied when the record leaves a field empty.
const (
	DefaultSystemPrompt = "You are a helpful IMVU bot."
	DefaultModel        = "gpt-3.5-turbo"
	DefaultGreeting     = "Hello everyone!"
)

// CannedResponse maps a trigger substring to a fixed reply.
type CannedResponse struct {
	Trigger  string `json:"trigger"`
	Response string `json:"response"`
}

// BotConfiguration is the operator-managed record keyed by bot identity.
type BotConfiguration struct {
	ID       string  `json:"id"`
	Username string  `json:"imvu_username"`
	Password string  `json:"imvu_password"`
	Command  Command `json:"command"`

	TargetRoom string `json:"target_room"`

	AIEnabled       bool  `json:"ai_enabled"`
	OpenAIEnabled   *bool `json:"openai_enabled"` // nil means not explicitly disabled
	GeminiEnabled   *bool `json:"gemini_enabled"`
	CannedEnabled   bool  `json:"canned_enabled"`
	GreetingEnabled bool  `json:"greeting_enabled"`

	OpenAIAPIKey string `json:"openai_api_key"`
	GeminiAPIKey string `json:"gemini_api_key"`
	AIModel      string `json:"ai_model"`
	SystemPrompt string `json:"system_prompt"`

	CannedResponses []CannedResponse `json:"canned_responses"`
	GreetingMessage string           `json:"greeting_message"`
}

// Model returns the configured model or the default one.
func (c *BotConfiguration) Model() string {
	if m := strings.TrimSpace(c.AIModel); m != "" {
		return m
	}
	return DefaultModel
}

// Prompt returns the configured system prompt or the default one.
func (c *BotConfiguration) Prompt() string {
	if p := strings.TrimSpace(c.SystemPrompt); p != "" {
		return c.SystemPrompt
	}
	return DefaultSystemPrompt
}

// Greeting returns the configured greeting or the default one.
func (c *BotConfiguration) Greeting() string {
	if g := strings.TrimSpace(c.GreetingMessage); g != "" {
		return c.GreetingMessage
	}
	return DefaultGreeting
}

// OpenAIAllowed is false only when openai_enabled is explicitly false.
func (c *BotConfiguration) OpenAIAllowed() bool {
	return c.OpenAIEnabled == nil || *c.OpenAIEnabled
}

// GeminiAllowed is false only when gemini_enabled is explicitly false.
func (c *BotConfiguration) GeminiAllowed() bool {
	return c.GeminiEnabled == nil || *c.GeminiEnabled
}

// BotStatus is the heartbeat written back to the record.
type BotStatus struct {
	Status          Status    `json:"status"`
	LastSeen        time.Time `json:"last_seen"`
	CurrentActivity string    `json:"current_activity"`
}
