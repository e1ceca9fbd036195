// Package resolver implements the Template Resolver & Type Coercer
// (spec.md §4.E): it substitutes {{source.field}} (canonical) and
// {source.field} (legacy) references against a node's upstream
// results, user profile, memory snapshot, and trigger payload, then
// coerces the resolved value to the shape a block's input schema
// expects.
package resolver

import (
	"errors"
	"fmt"
)

// Context holds everything a template reference can draw from while
// resolving a single pipeline node's inputs.
type Context struct {
	// NodeResults maps node id -> that node's output object.
	NodeResults map[string]any
	// Memory is the per-user memory snapshot (spec.md §3 Run State.memory).
	Memory map[string]any
	// User carries the invoking user's profile fields ({{user.name}}).
	User map[string]any
	// Trigger carries the payload that fired this run, when the run
	// originated from a trigger-category node.
	Trigger map[string]any
}

// NewContext returns an empty, ready-to-use Context.
func NewContext() *Context {
	return &Context{
		NodeResults: make(map[string]any),
		Memory:      make(map[string]any),
		User:        make(map[string]any),
		Trigger:     make(map[string]any),
	}
}

var (
	// ErrUnknownSource is returned when a template's leading path
	// segment names neither "memory", "user", "trigger" nor a node id
	// present in NodeResults.
	ErrUnknownSource = errors.New("template references an unknown source")
	// ErrFieldNotFound is returned when a source resolves but the
	// remaining dotted/bracketed path doesn't exist on it.
	ErrFieldNotFound = errors.New("template field not found")
	// ErrCoercion is returned when a resolved value cannot be coerced
	// to the schema type a block input declares.
	ErrCoercion = errors.New("value cannot be coerced to schema type")
)

// ResolutionError wraps a failed template reference with the
// original template string for diagnostics.
type ResolutionError struct {
	Template string
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Template, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
