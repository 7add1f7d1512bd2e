package llm

import (
	"context"
	"crypto/sha1" //nolint:gosec // cache key derivation, not security
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/store"
)

const (
	cacheKeyPrefix  = "llm:"
	usdBudgetKey    = "budget:"
	tokenBudgetKey  = "budget_tokens:"
	budgetTTL       = 24 * time.Hour
	defaultCacheTTL = 30 * time.Minute

	// defaultOutputCap is the assumed completion size when a request
	// does not set max_tokens. Used only for budget projection.
	defaultOutputCap = 800

	hotCacheSize = 256

	// Default per-token rates, roughly GPT-4o-mini class pricing.
	// Local backends are free; the rates only matter when a USD budget
	// is configured as a safety net.
	defaultUSDPerInputToken  = 0.00000015
	defaultUSDPerOutputToken = 0.0000006
)

// RouterSettings configures a Router.
type RouterSettings struct {
	// Backend selects the provider. A "test://" BaseURL overrides it
	// and selects the stub.
	Backend ProviderType
	// BaseURL is the backend server address. Empty selects the
	// provider default.
	BaseURL string
	// Model is used when a request does not name one.
	Model string
	// AllowList restricts callable models. Empty allows all.
	AllowList []string
	// CacheTTL is the response cache entry lifetime. Zero selects the
	// 30 minute default; negative disables caching.
	CacheTTL time.Duration
	// DailyTokenBudget caps tokens per UTC day. Zero disables.
	DailyTokenBudget int64
	// DailyUSDBudget caps estimated spend per UTC day. Zero disables.
	DailyUSDBudget float64
	// USDPerInputToken and USDPerOutputToken convert tokens to spend
	// for the USD budget. Zero selects the defaults.
	USDPerInputToken  float64
	USDPerOutputToken float64
	// Options customize the provider connection.
	Options []Option
}

// Router routes chat requests to a model backend, enforcing a model
// allow-list and daily budgets and caching responses. Budget counters
// live in the durable cache keyspace so they survive restarts and are
// shared across processes.
type Router struct {
	provider Provider
	cache    store.Cache
	hot      *expirable.LRU[string, string]
	settings RouterSettings

	// now is a test seam for the UTC day key.
	now func() time.Time
}

// NewRouter creates a router over the given backend and durable cache.
func NewRouter(settings RouterSettings, cache store.Cache) (*Router, error) {
	if settings.CacheTTL == 0 {
		settings.CacheTTL = defaultCacheTTL
	}
	if settings.USDPerInputToken == 0 {
		settings.USDPerInputToken = defaultUSDPerInputToken
	}
	if settings.USDPerOutputToken == 0 {
		settings.USDPerOutputToken = defaultUSDPerOutputToken
	}

	cfg := DefaultConfig()
	cfg.BaseURL = settings.BaseURL
	ApplyOptions(&cfg, settings.Options...)

	provider, err := NewProvider(settings.Backend, cfg)
	if err != nil {
		return nil, err
	}

	hotTTL := settings.CacheTTL
	if hotTTL < 0 {
		hotTTL = time.Millisecond
	}

	return &Router{
		provider: provider,
		cache:    cache,
		hot:      expirable.NewLRU[string, string](hotCacheSize, nil, hotTTL),
		settings: settings,
		now:      time.Now,
	}, nil
}

// Backend returns the name of the underlying provider.
func (r *Router) Backend() string {
	return r.provider.Name()
}

// Chat routes a chat request through the allow-list, response cache, and
// budget checks before contacting the backend. Cache hits cost nothing
// and skip the budget entirely.
func (r *Router) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := r.resolveModel(req)
	if err := r.checkModel(model); err != nil {
		return nil, err
	}

	key := r.cacheKey(req, model)
	if content, ok := r.cacheGet(ctx, key); ok {
		return &ChatResponse{Content: content, FinishReason: "stop"}, nil
	}

	promptTokens := approxTokens(promptText(req.Messages))
	outputCap := defaultOutputCap
	if req.MaxTokens != nil {
		outputCap = *req.MaxTokens
	}
	if err := r.ensureBudget(ctx, promptTokens, outputCap); err != nil {
		return nil, err
	}

	resp, err := r.provider.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	usedIn, usedOut := promptTokens, approxTokens(resp.Content)
	if resp.Usage.TotalTokens > 0 {
		usedIn, usedOut = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	r.recordSpend(ctx, usedIn, usedOut)
	r.cachePut(ctx, key, resp.Content, model)

	return resp, nil
}

// ChatStream is the streaming variant of Chat. Streamed responses are
// not cached; usage is recorded when the stream completes.
func (r *Router) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	model := r.resolveModel(req)
	if err := r.checkModel(model); err != nil {
		return nil, err
	}

	promptTokens := approxTokens(promptText(req.Messages))
	outputCap := defaultOutputCap
	if req.MaxTokens != nil {
		outputCap = *req.MaxTokens
	}
	if err := r.ensureBudget(ctx, promptTokens, outputCap); err != nil {
		return nil, err
	}

	upstream, err := r.provider.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		var generated int
		for ev := range upstream {
			generated += len(ev.Delta)
			if ev.Done {
				usedIn, usedOut := promptTokens, approxLen(generated)
				if ev.Usage != nil && ev.Usage.TotalTokens > 0 {
					usedIn, usedOut = ev.Usage.PromptTokens, ev.Usage.CompletionTokens
				}
				r.recordSpend(ctx, usedIn, usedOut)
			}
			events <- ev
		}
	}()

	return events, nil
}

// Spend reports accumulated usage for one UTC day.
type Spend struct {
	Date        string  `json:"date"`
	Tokens      int64   `json:"tokens"`
	USD         float64 `json:"usd"`
	TokenBudget int64   `json:"token_budget,omitempty"`
	USDBudget   float64 `json:"usd_budget,omitempty"`
}

// SpendToday returns the current UTC day's accumulated usage and the
// configured ceilings.
func (r *Router) SpendToday(ctx context.Context) (*Spend, error) {
	day := r.dayKey()
	tokens, err := r.counter(ctx, tokenBudgetKey+day)
	if err != nil {
		return nil, err
	}
	usd, err := r.counter(ctx, usdBudgetKey+day)
	if err != nil {
		return nil, err
	}
	return &Spend{
		Date:        day,
		Tokens:      int64(tokens),
		USD:         usd,
		TokenBudget: r.settings.DailyTokenBudget,
		USDBudget:   r.settings.DailyUSDBudget,
	}, nil
}

func (r *Router) resolveModel(req *ChatRequest) string {
	if req.Model == "" {
		req.Model = r.settings.Model
	}
	return req.Model
}

// checkModel enforces the allow-list before any backend contact.
func (r *Router) checkModel(model string) error {
	if len(r.settings.AllowList) == 0 {
		return nil
	}
	for _, allowed := range r.settings.AllowList {
		if model == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", core.ErrModelNotAllowed, model)
}

// ensureBudget rejects the request when the projected usage would cross
// a configured daily ceiling.
func (r *Router) ensureBudget(ctx context.Context, promptTokens, outputCap int) error {
	projected := int64(promptTokens + outputCap)
	day := r.dayKey()

	if budget := r.settings.DailyTokenBudget; budget > 0 {
		spent, err := r.counter(ctx, tokenBudgetKey+day)
		if err != nil {
			return err
		}
		if int64(spent)+projected > budget {
			return fmt.Errorf("%w: projected %d tokens over daily limit %d", core.ErrBudgetExceeded, projected, budget)
		}
	}

	if budget := r.settings.DailyUSDBudget; budget > 0 {
		spent, err := r.counter(ctx, usdBudgetKey+day)
		if err != nil {
			return err
		}
		need := r.estimateUSD(promptTokens, outputCap)
		if spent+need > budget {
			return fmt.Errorf("%w: projected $%.6f over daily limit $%.2f", core.ErrBudgetExceeded, need, budget)
		}
	}

	return nil
}

// recordSpend charges actual usage to today's counters. Failures are
// swallowed: losing an increment under-counts the budget but must not
// fail a chat that already succeeded.
func (r *Router) recordSpend(ctx context.Context, usedIn, usedOut int) {
	day := r.dayKey()
	_, _ = r.cache.CacheAdd(ctx, tokenBudgetKey+day, float64(usedIn+usedOut), budgetTTL)
	if usd := r.estimateUSD(usedIn, usedOut); usd > 0 {
		_, _ = r.cache.CacheAdd(ctx, usdBudgetKey+day, usd, budgetTTL)
	}
}

func (r *Router) estimateUSD(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)*r.settings.USDPerInputToken + float64(tokensOut)*r.settings.USDPerOutputToken
}

func (r *Router) counter(ctx context.Context, key string) (float64, error) {
	item, err := r.cache.CacheGet(ctx, key)
	if errors.Is(err, store.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v float64
	if err := item.Decode(&v); err != nil {
		return 0, nil
	}
	return v, nil
}

type cachedResponse struct {
	Text string `json:"text"`
}

func (r *Router) cacheGet(ctx context.Context, key string) (string, bool) {
	if r.settings.CacheTTL < 0 {
		return "", false
	}
	if content, ok := r.hot.Get(key); ok {
		return content, true
	}
	item, err := r.cache.CacheGet(ctx, key)
	if err != nil {
		return "", false
	}
	var cached cachedResponse
	if err := item.Decode(&cached); err != nil {
		return "", false
	}
	r.hot.Add(key, cached.Text)
	return cached.Text, true
}

func (r *Router) cachePut(ctx context.Context, key, content, model string) {
	if r.settings.CacheTTL < 0 {
		return
	}
	r.hot.Add(key, content)
	_ = r.cache.CachePut(ctx, key, cachedResponse{Text: content}, r.settings.CacheTTL, map[string]any{"model": model})
}

// cacheKey derives a deterministic key from the conversation and model.
// Sampling parameters are deliberately excluded so retries of the same
// prompt hit the cache.
func (r *Router) cacheKey(req *ChatRequest, model string) string {
	h := sha1.New() //nolint:gosec // cache key derivation, not security
	for _, m := range req.Messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	h.Write([]byte(model))
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

func (r *Router) dayKey() string {
	return r.now().UTC().Format("2006-01-02")
}

func promptText(messages []Message) string {
	var n int
	for _, m := range messages {
		n += len(m.Content) + 1
	}
	buf := make([]byte, 0, n)
	for i, m := range messages {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, m.Content...)
	}
	return string(buf)
}

// approxTokens estimates token count at four characters per token. Not
// exact; good enough for budget smoothing.
func approxTokens(text string) int {
	return approxLen(len(text))
}

func approxLen(chars int) int {
	n := chars / 4
	if n < 1 {
		n = 1
	}
	return n
}
