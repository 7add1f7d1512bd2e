package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ProviderType identifies a model backend implementation.
type ProviderType string

const (
	// ProviderOllama talks to an Ollama server's native chat API.
	ProviderOllama ProviderType = "ollama"
	// ProviderLlamaCPP talks to a llama.cpp server, preferring its
	// OpenAI-compatible endpoint with a native fallback.
	ProviderLlamaCPP ProviderType = "llamacpp"
	// ProviderStub returns fixed responses without any network I/O.
	ProviderStub ProviderType = "stub"
)

// ErrInvalidProvider is returned for unknown provider types.
var ErrInvalidProvider = errors.New("invalid provider")

// StubBaseURL selects the stub backend regardless of the configured
// provider type. Any "test://" URL has the same effect.
const StubBaseURL = "test://stub"

// ParseProviderType parses a provider type string, accepting common aliases.
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama", "local":
		return ProviderOllama, nil
	case "llamacpp", "llama.cpp", "llama-cpp":
		return ProviderLlamaCPP, nil
	case "stub", "test":
		return ProviderStub, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidProvider, s)
	}
}

// DefaultBaseURL returns the default server address for a provider type.
func DefaultBaseURL(pt ProviderType) string {
	switch pt {
	case ProviderOllama:
		return "http://localhost:11434"
	case ProviderLlamaCPP:
		return "http://localhost:8080"
	case ProviderStub:
		return StubBaseURL
	default:
		return ""
	}
}

// ProviderFactory creates a provider from a configuration.
type ProviderFactory func(cfg Config) (Provider, error)

var registry = make(map[ProviderType]ProviderFactory)

// RegisterProvider registers a provider factory. Provider packages call
// this from init; import the allproviders package to register all of them.
func RegisterProvider(pt ProviderType, factory ProviderFactory) {
	registry[pt] = factory
}

// NewProvider creates a provider of the given type. A "test://" base URL
// overrides the type and selects the stub backend, so any configuration
// can be pointed at the stub for tests.
func NewProvider(pt ProviderType, cfg Config) (Provider, error) {
	if strings.HasPrefix(cfg.BaseURL, "test://") {
		pt = ProviderStub
	}
	factory, ok := registry[pt]
	if !ok {
		return nil, fmt.Errorf("%w: %q (is the provider package imported?)", ErrInvalidProvider, pt)
	}
	return factory(cfg)
}
