package tools

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/jsonschema-go/jsonschema"
)

// schemaEntry holds a capability's input schema, resolved lazily on first
// dispatch so init() stays cheap.
type schemaEntry struct {
	name        string
	schema      *jsonschema.Schema
	resolved    atomic.Pointer[jsonschema.Resolved]
	resolveOnce sync.Once
	resolveErr  error
}

// newSchemaEntry infers the schema from the input struct type T. Panics if
// inference fails (cyclic types), which can only be a programming error.
func newSchemaEntry[T any](name string) *schemaEntry {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("tools: failed to infer input schema for %s: %v", name, err))
	}
	return &schemaEntry{name: name, schema: schema}
}

// validate checks input against the schema. A nil entry (tool added without
// a schema) skips validation.
func (e *schemaEntry) validate(input map[string]any) error {
	if e == nil {
		return nil
	}
	resolved, err := e.getResolved()
	if err != nil {
		return fmt.Errorf("schema error for %s: %w", e.name, err)
	}
	if err := resolved.Validate(input); err != nil {
		return fmt.Errorf("invalid %s input: %w", e.name, err)
	}
	return nil
}

func (e *schemaEntry) getResolved() (*jsonschema.Resolved, error) {
	e.resolveOnce.Do(func() {
		resolved, err := e.schema.Resolve(&jsonschema.ResolveOptions{
			ValidateDefaults: true,
		})
		if err != nil {
			e.resolveErr = err
			return
		}
		e.resolved.Store(resolved)
	})

	if e.resolveErr != nil {
		return nil, e.resolveErr
	}
	return e.resolved.Load(), nil
}
