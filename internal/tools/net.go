package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	maxHTTPTimeout     = 2 * time.Minute

	// maxBodyBytes caps how much of a response body lands in step output.
	maxBodyBytes = 1 << 20
)

type httpGetInput struct {
	URL        string            `json:"url" jsonschema:"http or https URL to fetch"`
	Headers    map[string]string `json:"headers,omitempty" jsonschema:"request headers"`
	TimeoutSec int               `json:"timeout_sec,omitempty" jsonschema:"wall clock limit in seconds (default 15, max 120)"`
}

func init() {
	Register[httpGetInput](Registration{
		Name:        "net.http_get",
		Description: "Fetch a URL with a time-bounded HTTP GET",
		Scopes:      []string{consent.ScopeNetGet},
		Handler:     netHTTPGet,
	})
}

func netHTTPGet(ctx context.Context, env Env, input map[string]any) (map[string]any, error) {
	var in httpGetInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(in.URL, "http://") && !strings.HasPrefix(in.URL, "https://") {
		return nil, core.NewValidationError("url", in.URL, errors.New("only http and https URLs are allowed"))
	}

	timeout := defaultHTTPTimeout
	if in.TimeoutSec > 0 {
		timeout = min(time.Duration(in.TimeoutSec)*time.Second, maxHTTPTimeout)
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := env.HTTP
	if client == nil {
		client = resty.New()
	}
	req := client.R().SetContext(reqCtx)
	if len(in.Headers) > 0 {
		req.SetHeaders(in.Headers)
	}

	resp, err := req.Get(in.URL)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: GET %s after %s", core.ErrTimeout, in.URL, timeout)
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", in.URL, err)
	}

	body := resp.Body()
	truncated := false
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
		truncated = true
	}

	headers := make(map[string]any, len(resp.Header()))
	for name := range resp.Header() {
		headers[name] = resp.Header().Get(name)
	}

	return map[string]any{
		"url":       in.URL,
		"status":    resp.StatusCode(),
		"headers":   headers,
		"text":      string(body),
		"truncated": truncated,
	}, nil
}
