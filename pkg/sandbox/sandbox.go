// Package sandbox implements block execution isolation (spec.md §4.B):
// every python/text_generation block body runs inside a Sandbox, never
// in the server process. Two backends share one interface — a
// container backend for production isolation and a subprocess backend
// for fast local iteration and tests — selected by config, never by
// caller code.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// Result is what a block body produced, independent of backend.
type Result struct {
	Output   map[string]any
	Stdout   string
	Stderr   string
	Duration time.Duration
	ExitCode int
}

// Request is everything a backend needs to run one block body once.
type Request struct {
	// Code is the Python source defining `def execute(inputs, context):`.
	Code string
	// Inputs is the resolved, coerced input map passed to execute().
	Inputs map[string]any
	// Timeout bounds this single execution; callers should also carry
	// a deadline on ctx, but backends enforce Timeout independently so
	// a forgotten context deadline doesn't leave a sandbox running.
	Timeout time.Duration
	// NeedsNetwork mirrors BlockMetadata.NeedsNetwork: false denies
	// outbound network access inside the sandbox.
	NeedsNetwork bool
	// MemoryLimitMB and CPULimit bound resource consumption.
	MemoryLimitMB int64
	CPULimit      float64
}

// Sandbox runs one block body in isolation and reports its result.
// Implementations must never let a single Run call exceed req.Timeout,
// and must guarantee no sandbox process outlives the call.
type Sandbox interface {
	Run(ctx context.Context, req Request) (*Result, error)
	// Close releases backend resources (containers, temp dirs). Safe
	// to call more than once.
	Close() error
}

// Mode selects per-block vs shared-flow sandbox allocation (spec.md
// §4.B's Open Question, decided in DESIGN.md: per-block is the
// production default).
type Mode string

const (
	// ModePerBlock allocates a fresh Sandbox for every node execution.
	// This is the default: synthesized block bodies are untrusted, so
	// isolation takes priority over setup cost.
	ModePerBlock Mode = "per_block"
	// ModeSharedFlow allocates one Sandbox for an entire pipeline run
	// and executes every node's body inside it sequentially. Opt-in
	// via Executor.Config.SharedSandbox, for flows where the package
	// install cost of ModePerBlock dominates wall-clock time and the
	// blocks involved are all registry-vetted (not freshly synthesized).
	ModeSharedFlow Mode = "shared_flow"
)

var (
	// ErrTimeout is returned when a Run call's execution exceeds
	// req.Timeout.
	ErrTimeout = errors.New("sandbox: execution timed out")
	// ErrMemoryExceeded is returned when the subprocess/container is
	// killed for exceeding its memory limit.
	ErrMemoryExceeded = errors.New("sandbox: memory limit exceeded")
	// ErrNonZeroExit is returned when the block body's process exits
	// with a non-zero status and no structured output could be parsed.
	ErrNonZeroExit = errors.New("sandbox: process exited non-zero")
)
