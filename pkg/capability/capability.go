// Package capability implements the external language/embedding
// capability boundary from spec.md §6: the core never talks to a
// vendor SDK directly, only to these two operations.
package capability

import (
	"context"

	"github.com/kkkaaai/blockforge/pkg/models"
)

// Capability is the vendor-agnostic interface the synthesizer and
// planner depend on. spec.md §6 deliberately keeps this to two verbs;
// anything provider-specific (retries, auth headers, model routing)
// lives behind the implementation, not the interface.
type Capability interface {
	// Generate produces free-form text given a system/user prompt pair,
	// bounded by req.Deadline.
	Generate(ctx context.Context, req models.CapabilityRequest) (*models.CapabilityResponse, error)
	// Embed returns a fixed-dimension vector for text, used by the
	// registry's hybrid search (pkg/registry/search.go).
	Embed(ctx context.Context, text string) (models.EmbeddingVector, error)
}
