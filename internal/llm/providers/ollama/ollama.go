// Package ollama provides an LLM provider for Ollama's native chat API,
// falling back to the /api/generate endpoint for older servers.
package ollama

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
	providerName     = "ollama"
	chatEndpoint     = "/api/chat"
	generateEndpoint = "/api/generate"

	// Streaming responses can carry long single-line JSON objects.
	maxScanTokenSize = 1 << 20
)

func init() {
	llm.RegisterProvider(llm.ProviderOllama, New)
}

// Provider implements the llm.Provider interface for Ollama servers.
type Provider struct {
	config     llm.Config
	httpClient *llm.HTTPClient
}

// New creates a new Ollama provider. No API key is required; one is sent
// as a bearer token only when configured.
func New(cfg llm.Config) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = llm.DefaultBaseURL(llm.ProviderOllama)
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

// Chat sends messages and returns the complete response. The chat
// endpoint is tried first; servers that predate it get the generate
// fallback.
func (p *Provider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	return p.generate(ctx, req)
}

// ChatStream sends messages and streams the response. Ollama streams
// newline-delimited JSON objects rather than SSE. When the chat endpoint
// is unavailable the generate fallback delivers the full response as a
// single chunk.
func (p *Provider) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	body, err := p.buildRequestBody(req, true)
	if err != nil {
		return nil, err
	}

	respBody, err := p.doRequest(ctx, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, llm.WrapError(providerName, err)
		}
		resp, gerr := p.generate(ctx, req)
		if gerr != nil {
			return nil, gerr
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

func (p *Provider) chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, err := p.buildRequestBody(req, false)
	if err != nil {
		return nil, err
	}

	respBody, err := p.doRequest(ctx, body)
	if err != nil {
		return nil, llm.WrapError(providerName, err)
	}
	defer func() { _ = respBody.Close() }()

	var resp chatResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, llm.WrapError(providerName, fmt.Errorf("failed to decode response: %w", err))
	}

	content := resp.Message.Content
	if content == "" && resp.Response != "" {
		// Generate-endpoint compatibility for proxies that answer in
		// the older shape.
		content = resp.Response
	}

	return &llm.ChatResponse{
		Content:      content,
		FinishReason: resp.DoneReason,
		Usage: llm.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

// generate hits the legacy endpoint. Messages are flattened into a
// single prompt since the endpoint has no chat structure.
func (p *Provider) generate(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	greq := generateRequest{
		Model:   req.Model,
		Prompt:  joinMessages(req.Messages),
		Stream:  false,
		Options: buildOptions(req),
	}

	body, err := json.Marshal(greq)
	if err != nil {
		return nil, llm.WrapError(providerName, err)
	}

	respBody, err := p.httpClient.Do(ctx, p.config.BaseURL+generateEndpoint, body, p.authHeaders())
	if err != nil {
		return nil, llm.WrapError(providerName, err)
	}
	defer func() { _ = respBody.Close() }()

	var resp chatResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, llm.WrapError(providerName, fmt.Errorf("failed to decode generate response: %w", err))
	}

	return &llm.ChatResponse{
		Content:      resp.Response,
		FinishReason: resp.DoneReason,
		Usage: llm.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

func (p *Provider) buildRequestBody(req *llm.ChatRequest, stream bool) ([]byte, error) {
	messages := make([]message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = message{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}

	chatReq := chatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   stream,
		Options:  buildOptions(req),
	}

	return json.Marshal(chatReq)
}

// buildOptions maps sampling parameters into Ollama's options object.
// Both the chat and generate endpoints accept the same shape.
func buildOptions(req *llm.ChatRequest) map[string]any {
	opts := map[string]any{}
	if req.Temperature != nil {
		opts["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		opts["num_predict"] = *req.MaxTokens
	}
	if req.TopP != nil {
		opts["top_p"] = *req.TopP
	}
	if len(req.Stop) > 0 {
		opts["stop"] = req.Stop
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func joinMessages(messages []llm.Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

func (p *Provider) doRequest(ctx context.Context, body []byte) (io.ReadCloser, error) {
	return p.httpClient.Do(ctx, p.config.BaseURL+chatEndpoint, body, p.authHeaders())
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
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			events <- llm.StreamEvent{Error: ctx.Err(), Done: true}
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk chatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}

		if chunk.Message.Content != "" {
			events <- llm.StreamEvent{Delta: chunk.Message.Content}
		}

		if chunk.Done {
			var usage *llm.Usage
			if chunk.PromptEvalCount > 0 || chunk.EvalCount > 0 {
				usage = &llm.Usage{
					PromptTokens:     chunk.PromptEvalCount,
					CompletionTokens: chunk.EvalCount,
					TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
				}
			}
			events <- llm.StreamEvent{Done: true, Usage: usage}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		events <- llm.StreamEvent{Error: llm.WrapError(providerName, err), Done: true}
		return
	}

	// Stream ended without a done marker; still signal completion.
	events <- llm.StreamEvent{Done: true}
}

// API request/response types (Ollama native)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string  `json:"model"`
	Message         message `json:"message"`
	Response        string  `json:"response,omitempty"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}
