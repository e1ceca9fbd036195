// Package models defines the domain types shared by every component of
// the agent pipeline runtime: block definitions, pipeline DAGs, run
// state, planner state, and the error taxonomy components use to
// report failures across their boundaries.
package models

import "errors"

// Sentinel errors. Components wrap these with fmt.Errorf("...: %w", ...)
// so callers can errors.Is/errors.As regardless of which component
// produced the failure.
var (
	// ErrNotFound is returned when a requested entity is absent from its
	// store (block, pipeline, execution, trigger, memory key).
	ErrNotFound = errors.New("not found")

	// ErrCyclicDependency is returned by pipeline DAG validation when the
	// edge set contains a cycle.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrNodeNotFound and ErrEdgeNotFound address a missing member of a
	// pipeline rather than the pipeline itself.
	ErrNodeNotFound = errors.New("node not found")
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrCancelled is returned when a caller-supplied context is
	// cancelled mid-operation; it is never wrapped in ValidationError or
	// any other kind, since cancellation is orthogonal to content.
	ErrCancelled = errors.New("operation cancelled")

	// ErrExecutorNotFound is returned when a pipeline references a block
	// whose execution_type has no registered runner.
	ErrExecutorNotFound = errors.New("executor not found")
)

// ValidationKind distinguishes the sub-kinds of ValidationError named in
// the error taxonomy (schema payload, source compile failure, bad
// output shape, missing required input).
type ValidationKind string

const (
	SchemaKind          ValidationKind = "schema"
	SourceCompileKind   ValidationKind = "source_compile"
	OutputShapeKind     ValidationKind = "output_shape"
	MissingRequiredKind ValidationKind = "missing_required"
)

// ValidationError reports that a payload or a produced artifact
// violated a schema. Field is the dotted path or property name at
// fault; Kind narrows which of the four sub-kinds occurred.
type ValidationError struct {
	Kind    ValidationKind
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind) + " " + e.Field + ": " + e.Message
}

// ValidationErrors aggregates multiple ValidationError values raised by
// one validation pass (e.g. every missing required property at once).
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Error()
}

// TimeoutError reports that a deadline was exceeded on an external
// capability call (language generation, embedding, sandbox execution).
type TimeoutError struct {
	Operation string
	Deadline  string
}

func (e *TimeoutError) Error() string {
	return "timeout: " + e.Operation + " exceeded deadline " + e.Deadline
}

// ResourceExceededError reports a sandbox resource limit breach (CPU
// seconds, memory bytes, open file descriptors).
type ResourceExceededError struct {
	Resource string
	Limit    string
}

func (e *ResourceExceededError) Error() string {
	return "resource exceeded: " + e.Resource + " over limit " + e.Limit
}

// SandboxError reports a backend-level failure: the image is missing,
// the container runtime refused to start, or the subprocess could not
// be spawned. It is distinct from ResourceExceededError, which reports
// an enforced limit rather than an infrastructure fault.
type SandboxError struct {
	Backend string
	Err     error
}

func (e *SandboxError) Error() string {
	return "sandbox (" + e.Backend + "): " + e.Err.Error()
}

func (e *SandboxError) Unwrap() error { return e.Err }

// SynthesisMaxIterationsError reports that the generate/test/repair
// loop exhausted its iteration cap without producing a passing block.
// LastFailure carries the most recent validation or execution error so
// the caller can surface a useful diagnostic without re-running.
type SynthesisMaxIterationsError struct {
	Iterations  int
	LastFailure error
}

func (e *SynthesisMaxIterationsError) Error() string {
	return "synthesis exhausted after " + itoa(e.Iterations) + " iterations"
}

func (e *SynthesisMaxIterationsError) Unwrap() error { return e.LastFailure }

// UpstreamError reports that a template reference resolved to the
// output of a node that itself failed. It carries the id of that
// failed node so the resolver's caller can attribute blame correctly.
type UpstreamError struct {
	NodeID string
	Err    error
}

func (e *UpstreamError) Error() string {
	return "upstream node " + e.NodeID + " failed: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// CapabilityError reports that the language-generation or embedding
// endpoint returned an error or malformed response.
type CapabilityError struct {
	Capability string // "generate" or "embed"
	Err        error
}

func (e *CapabilityError) Error() string {
	return "capability " + e.Capability + ": " + e.Err.Error()
}

func (e *CapabilityError) Unwrap() error { return e.Err }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
