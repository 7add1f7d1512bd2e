// Package tag provides standardized tag functions for structured logging.
//
// Use these instead of raw key strings so log output stays consistent
// across the codebase.
package tag

import (
	"log/slog"
	"time"
)

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Plan creates a tag for plan titles.
func Plan(title string) slog.Attr {
	return slog.String("plan", title)
}

// PlanID creates a tag for plan identifiers.
func PlanID(id string) slog.Attr {
	return slog.String("plan-id", id)
}

// ChildPlanID creates a tag for identifiers of revised child plans.
func ChildPlanID(id string) slog.Attr {
	return slog.String("child-plan-id", id)
}

// Step creates a tag for step names.
func Step(name string) slog.Attr {
	return slog.String("step", name)
}

// StepID creates a tag for step identifiers.
func StepID(id string) slog.Attr {
	return slog.String("step-id", id)
}

// Attempt creates a tag for attempt numbers.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// State creates a tag for plan or step states.
func State(state string) slog.Attr {
	return slog.String("state", state)
}

// Capability creates a tag for tool capability names.
func Capability(name string) slog.Attr {
	return slog.String("capability", name)
}

// Scope creates a tag for consent scopes.
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Model creates a tag for LLM model names.
func Model(name string) slog.Attr {
	return slog.String("model", name)
}

// Backend creates a tag for LLM backend names.
func Backend(name string) slog.Attr {
	return slog.String("backend", name)
}

// Path creates a tag for filesystem paths.
func Path(path string) slog.Attr {
	return slog.String("path", path)
}

// Key creates a tag for cache keys.
func Key(key string) slog.Attr {
	return slog.String("key", key)
}

// Port creates a tag for network ports.
func Port(port int) slog.Attr {
	return slog.Int("port", port)
}

// Duration creates a tag for elapsed time.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Count creates a tag for generic counters.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}
