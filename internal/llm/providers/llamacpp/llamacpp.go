// Package llamacpp provides an LLM provider for llama.cpp servers.
// It prefers the server's OpenAI-compatible chat endpoint and falls back
// to the native /completion endpoint for older builds.
package llamacpp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olympus-org/olympus/internal/llm"
)

const (
	providerName       = "llamacpp"
	chatEndpoint       = "/v1/chat/completions"
	completionEndpoint = "/completion"
	streamPrefix       = "data: "
	streamDoneMarker   = "[DONE]"
)

func init() {
	llm.RegisterProvider(llm.ProviderLlamaCPP, New)
}

// Provider implements the llm.Provider interface for llama.cpp servers.
type Provider struct {
	config     llm.Config
	httpClient *llm.HTTPClient
}

// New creates a new llama.cpp provider. No API key is required; one is
// sent as a bearer token only when configured.
func New(cfg llm.Config) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = llm.DefaultBaseURL(llm.ProviderLlamaCPP)
	}

	return &Provider{
		config:     cfg,
		httpClient: llm.NewHTTPClient(cfg),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// Chat sends messages and returns the complete response. The
// OpenAI-compatible endpoint is tried first; servers that predate it get
// the native completion fallback.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.chatCompletions(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	return p.completion(ctx, req)
}

// ChatStream sends messages and streams the response. Only the
// OpenAI-compatible endpoint supports SSE; when it is unavailable the
// native fallback delivers the full response as a single chunk.
func (p *Provider) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	body, err := p.buildChatBody(req, true)
	if err != nil {
		return nil, err
	}

	respBody, err := p.httpClient.Do(ctx, p.config.BaseURL+chatEndpoint, body, p.authHeaders())
	if err != nil {
		if ctx.Err() != nil {
			return nil, llm.WrapError(providerName, err)
		}
		resp, cerr := p.completion(ctx, req)
		if cerr != nil {
			return nil, cerr
		}
		events := make(chan llm.StreamEvent, 2)
		events <- llm.StreamEvent{Delta: resp.Content}
		events <- llm.StreamEvent{Done: true, Usage: &resp.Usage}
		close(events)
		return events, nil
	}

	events := make(chan llm.StreamEvent)
	go p.streamResponse(ctx, respBody, events)

	return events, nil
}

func (p *Provider) chatCompletions(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, err := p.buildChatBody(req, false)
	if err != nil {
		return nil, err
	}

	respBody, err := p.httpClient.Do(ctx, p.config.BaseURL+chatEndpoint, body, p.authHeaders())
	if err != nil {
		return nil, llm.WrapError(providerName, err)
	}
	defer func() { _ = respBody.Close() }()

	var resp chatCompletionResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, llm.WrapError(providerName, fmt.Errorf("failed to decode response: %w", err))
	}

	if len(resp.Choices) == 0 {
		return nil, llm.WrapError(providerName, fmt.Errorf("no choices in response"))
	}

	return &llm.ChatResponse{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// completion hits the native llama.cpp endpoint. Messages are flattened
// into a single prompt since the endpoint has no chat structure.
func (p *Provider) completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	creq := completionRequest{Prompt: joinMessages(req.Messages)}
	if req.Temperature != nil {
		creq.Temperature = req.Temperature
	}
	if req.MaxTokens != nil {
		creq.NPredict = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		creq.Stop = req.Stop
	}

	body, err := json.Marshal(creq)
	if err != nil {
		return nil, llm.WrapError(providerName, err)
	}

	respBody, err := p.httpClient.Do(ctx, p.config.BaseURL+completionEndpoint, body, p.authHeaders())
	if err != nil {
		return nil, llm.WrapError(providerName, err)
	}
	defer func() { _ = respBody.Close() }()

	var resp completionResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, llm.WrapError(providerName, fmt.Errorf("failed to decode completion response: %w", err))
	}

	content := resp.Content
	if content == "" {
		content = resp.Completion
	}

	finish := ""
	if resp.StoppedEOS || resp.StoppedWord {
		finish = "stop"
	} else if resp.StoppedLimit {
		finish = "length"
	}

	return &llm.ChatResponse{
		Content:      content,
		FinishReason: finish,
		Usage: llm.Usage{
			PromptTokens:     resp.TokensEvaluated,
			CompletionTokens: resp.TokensPredicted,
			TotalTokens:      resp.TokensEvaluated + resp.TokensPredicted,
		},
	}, nil
}

func (p *Provider) buildChatBody(req *llm.ChatRequest, stream bool) ([]byte, error) {
	messages := make([]message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = message{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}

	chatReq := chatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   stream,
	}

	if req.Temperature != nil {
		chatReq.Temperature = req.Temperature
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.TopP != nil {
		chatReq.TopP = req.TopP
	}
	if len(req.Stop) > 0 {
		chatReq.Stop = req.Stop
	}

	return json.Marshal(chatReq)
}

func (p *Provider) authHeaders() map[string]string {
	if p.config.APIKey != "" {
		return map[string]string{
			"Authorization": "Bearer " + p.config.APIKey,
		}
	}
	return nil
}

func (p *Provider) streamResponse(ctx context.Context, body io.ReadCloser, events chan<- llm.StreamEvent) {
	defer close(events)
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	var usage *llm.Usage

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			events <- llm.StreamEvent{Error: ctx.Err(), Done: true}
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, streamPrefix) {
			continue
		}

		data := strings.TrimPrefix(line, streamPrefix)
		if data == streamDoneMarker {
			events <- llm.StreamEvent{Done: true, Usage: usage}
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			usage = &llm.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			events <- llm.StreamEvent{Delta: chunk.Choices[0].Delta.Content}
		}
	}

	if err := scanner.Err(); err != nil {
		events <- llm.StreamEvent{Error: llm.WrapError(providerName, err), Done: true}
		return
	}

	// If we get here without [DONE], still signal completion.
	events <- llm.StreamEvent{Done: true, Usage: usage}
}

func joinMessages(messages []llm.Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// API request/response types (OpenAI-compatible)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type streamChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// API request/response types (llama.cpp native)

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature,omitempty"`
	NPredict    *int     `json:"n_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Content         string `json:"content"`
	Completion      string `json:"completion,omitempty"`
	StoppedEOS      bool   `json:"stopped_eos,omitempty"`
	StoppedWord     bool   `json:"stopped_word,omitempty"`
	StoppedLimit    bool   `json:"stopped_limit,omitempty"`
	TokensPredicted int    `json:"tokens_predicted,omitempty"`
	TokensEvaluated int    `json:"tokens_evaluated,omitempty"`
}
