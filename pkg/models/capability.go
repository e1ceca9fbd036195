package models

import "time"

// CapabilityRequest is the payload sent to the language capability's
// generate operation: `generate(system, user, deadline) -> str`
// (spec.md §6). The core treats the response as opaque text.
type CapabilityRequest struct {
	System   string        `json:"system"`
	User     string        `json:"user"`
	Deadline time.Duration `json:"deadline"`
}

// CapabilityResponse carries the raw text returned by generate, plus
// whatever usage accounting the backing provider reports.
type CapabilityResponse struct {
	Text         string `json:"text"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// EmbeddingVector is the fixed-dimension float vector returned by
// `embed(text) -> vec[N]` (spec.md §6).
type EmbeddingVector []float32
