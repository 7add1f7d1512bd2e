// Package tools maps symbolic capability names to implementations. Each
// builtin registers itself via init() with the consent scopes it needs and a
// JSON schema inferred from its input struct; the registry is the single
// source of truth for what an agent can do.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/go-viper/mapstructure/v2"

	"github.com/olympus-org/olympus/internal/consent"
	"github.com/olympus-org/olympus/internal/core"
	"github.com/olympus-org/olympus/internal/sandbox"
)

// Env carries the runtime collaborators handlers may touch. Filesystem
// tools resolve every path through Sandbox; network tools share HTTP.
type Env struct {
	Sandbox *sandbox.Sandbox
	Policy  consent.Policy
	HTTP    *resty.Client
}

// Handler executes one capability. Input has already been validated against
// the registered schema; the returned mapping becomes the step output.
type Handler func(ctx context.Context, env Env, input map[string]any) (map[string]any, error)

// Registration describes one capability for the global registry.
type Registration struct {
	// Name is the capability identifier (e.g. "fs.read", "shell.run").
	Name string
	// Description is a one-line summary surfaced to planners and the UI.
	Description string
	// Scopes are the consent scopes the capability requires. Empty means
	// the capability has no side effects and is never consent-gated.
	Scopes []string
	// Handler runs the capability.
	Handler Handler
}

type registeredTool struct {
	Registration
	schema *schemaEntry
}

// toolRegistry holds all registered capabilities. Populated by init() calls.
var (
	registryMu   sync.RWMutex
	toolRegistry = make(map[string]*registeredTool)
)

// Register adds a capability whose input schema is inferred from T. Called
// from init() functions; duplicate names panic because they can only be a
// programming error.
func Register[T any](reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := toolRegistry[reg.Name]; dup {
		panic(fmt.Sprintf("tools: duplicate registration for %q", reg.Name))
	}
	toolRegistry[reg.Name] = &registeredTool{
		Registration: reg,
		schema:       newSchemaEntry[T](reg.Name),
	}
}

// Descriptor is the public catalog entry for one capability.
type Descriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Scopes      []string `json:"scopes"`
}

// Registry resolves and dispatches capabilities against one Env.
type Registry struct {
	env   Env
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewRegistry snapshots the global registrations into a registry bound to
// env. Later global registrations do not appear in existing registries.
func NewRegistry(env Env) *Registry {
	registryMu.RLock()
	defer registryMu.RUnlock()
	tools := make(map[string]*registeredTool, len(toolRegistry))
	for name, tool := range toolRegistry {
		tools[name] = tool
	}
	return &Registry{env: env, tools: tools}
}

// Add registers a capability on this registry only. Tests and embedders use
// it to inject custom tools without touching the global table.
func (r *Registry) Add(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[reg.Name] = &registeredTool{Registration: reg}
}

// Resolve returns the capability record or ErrUnknownCapability.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", core.ErrUnknownCapability, name)
	}
	return tool.descriptor(), nil
}

// Catalog returns every capability sorted by name.
func (r *Registry) Catalog() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool.descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted capability names.
func (r *Registry) Names() []string {
	catalog := r.Catalog()
	names := make([]string, len(catalog))
	for i, d := range catalog {
		names[i] = d.Name
	}
	return names
}

// Dispatch runs one capability end to end: resolve the name, enforce
// consent for its scopes, validate the input against the registered schema,
// then execute. Consent is only consulted for scoped capabilities; pure
// transforms run ungated.
func (r *Registry) Dispatch(ctx context.Context, name string, input map[string]any, tok *consent.Token) (map[string]any, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownCapability, name)
	}
	if len(tool.Scopes) > 0 {
		if err := r.env.Policy.Check(tok, tool.Scopes...); err != nil {
			return nil, err
		}
	}
	if input == nil {
		input = map[string]any{}
	}
	if err := tool.schema.validate(input); err != nil {
		return nil, core.NewValidationError("input", name, err)
	}
	out, err := tool.Handler(ctx, r.env, input)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func (t *registeredTool) descriptor() Descriptor {
	return Descriptor{
		Name:        t.Name,
		Description: t.Description,
		Scopes:      append([]string(nil), t.Scopes...),
	}
}

// decodeInput maps a validated input mapping onto a typed struct. Weak
// typing tolerates JSON numbers arriving as float64 for integer fields.
func decodeInput(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      false,
		TagName:          "json",
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("failed to decode input: %w", err)
	}
	return nil
}
