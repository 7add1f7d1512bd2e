// Package llm provides a unified interface for local model backends with
// caching, daily budgets, and model allow-listing layered on top.
package llm

import (
	"context"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ParseRole normalizes common role aliases to their canonical form.
// Unknown values pass through unchanged so callers can use
// backend-specific roles.
func ParseRole(s string) Role {
	switch s {
	case "system", "sys":
		return RoleSystem
	case "user", "human":
		return RoleUser
	case "assistant", "ai", "bot":
		return RoleAssistant
	case "tool", "function":
		return RoleTool
	default:
		return Role(s)
	}
}

// Message is a single chat message.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ChatRequest is a provider-agnostic chat completion request.
// Optional fields use pointers so providers can distinguish "unset"
// from zero values.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// ChatResponse is the complete response from a chat completion.
type ChatResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Usage reports token consumption for a single request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamEvent is one element of a streaming chat response. The channel is
// closed after an event with Done set; Usage is populated on the final
// event when the backend reports it.
type StreamEvent struct {
	Delta string
	Done  bool
	Error error
	Usage *Usage
}

// Provider is the interface implemented by model backends.
type Provider interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)
	Name() string
}

// Config holds provider connection settings.
type Config struct {
	// APIKey is optional; local backends behind an auth proxy accept it
	// as a bearer token.
	APIKey string
	// BaseURL is the backend server address. Empty selects the
	// provider's default.
	BaseURL string
	// Timeout bounds a single HTTP request including body read.
	Timeout time.Duration
	// MaxRetries is the number of retry attempts after the first try.
	MaxRetries int
	// InitialInterval is the first retry backoff delay.
	InitialInterval time.Duration
	// MaxInterval caps the exponential backoff delay.
	MaxInterval time.Duration
	// Multiplier is the backoff growth factor.
	Multiplier float64
}

// DefaultConfig returns the default provider configuration. The generous
// timeout accounts for local models generating on CPU.
func DefaultConfig() Config {
	return Config{
		Timeout:         5 * time.Minute,
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}
