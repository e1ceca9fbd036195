// Package planner implements the Thinker (spec.md §4.D): the
// four-stage state machine that turns a user intent into a validated
// Pipeline JSON, emitting a totally-ordered event stream as it goes.
//
// Adapted from internal/application/observer's Event/EventFilter shape
// — same dot-notation event types, same single-writer channel
// discipline — generalized from workflow-execution events to
// planner-stage events.
package planner

import "time"

// EventType is a dot-notation planner event, mirroring the teacher
// observer package's EventType convention.
type EventType string

const (
	EventStageEntry       EventType = "stage.entered"
	EventStageResult      EventType = "stage.result"
	EventValidationResult EventType = "validation.result"
	EventPrompt           EventType = "prompt.exchanged"
	EventSearchResult     EventType = "search.result"
	EventCreateResult     EventType = "create.result"
	EventComplete         EventType = "complete"
)

// Event is one entry in the planner's output stream. Exactly one
// writer (the running Planner) ever sends on the channel that carries
// these, so ordering within a run is the emission order — no
// coordination needed, per spec.md §4.D's ordering guarantee.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage,omitempty"`

	// Prompt exchange (decompose/wire stages).
	OutgoingPrompt string `json:"outgoing_prompt,omitempty"`
	IncomingText   string `json:"incoming_text,omitempty"`

	// Search stage.
	RequirementPurpose string `json:"requirement_purpose,omitempty"`
	Found              bool   `json:"found,omitempty"`
	MatchedBlockID     string `json:"matched_block_id,omitempty"`

	// Create stage.
	BlockPurpose   string `json:"block_purpose,omitempty"`
	Attempt        int    `json:"attempt,omitempty"`
	CreateOK       bool   `json:"create_ok,omitempty"`
	CreateFailure  string `json:"create_failure,omitempty"`

	// Validation.
	Valid        bool   `json:"valid,omitempty"`
	ValidationErr string `json:"validation_error,omitempty"`

	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}
