// Package stub provides a deterministic LLM provider for tests and
// offline development. It answers every chat with a fixed string and
// streams a fixed pair of chunks, never touching the network.
package stub

import (
	"context"

	"github.com/olympus-org/olympus/internal/llm"
)

const providerName = "stub"

// ChatContent is the fixed response for non-streaming chats.
const ChatContent = "stub-response"

// StreamChunks are the fixed deltas for streaming chats.
var StreamChunks = []string{"hello", "world"}

func init() {
	llm.RegisterProvider(llm.ProviderStub, New)
}

// Provider implements the llm.Provider interface with canned responses.
type Provider struct{}

// New creates a new stub provider. The configuration is ignored.
func New(_ llm.Config) (llm.Provider, error) {
	return &Provider{}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// Chat returns the fixed response.
func (p *Provider) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	prompt := 0
	for _, m := range req.Messages {
		prompt += len(m.Content) / 4
	}
	return &llm.ChatResponse{
		Content:      ChatContent,
		FinishReason: "stop",
		Usage: llm.Usage{
			PromptTokens:     prompt,
			CompletionTokens: len(ChatContent) / 4,
			TotalTokens:      prompt + len(ChatContent)/4,
		},
	}, nil
}

// ChatStream delivers the fixed chunks in order and completes.
func (p *Provider) ChatStream(_ context.Context, _ *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	events := make(chan llm.StreamEvent, len(StreamChunks)+1)
	for _, chunk := range StreamChunks {
		events <- llm.StreamEvent{Delta: chunk}
	}
	events <- llm.StreamEvent{Done: true}
	close(events)
	return events, nil
}
