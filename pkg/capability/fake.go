package capability

import (
	"context"

	"github.com/kkkaaai/blockforge/pkg/models"
)

// Fake is an in-memory Capability for tests in other packages
// (pkg/synthesizer, pkg/planner) that need deterministic generate/embed
// behavior without a live HTTP endpoint.
type Fake struct {
	GenerateFunc func(ctx context.Context, req models.CapabilityRequest) (*models.CapabilityResponse, error)
	EmbedFunc    func(ctx context.Context, text string) (models.EmbeddingVector, error)
	Calls        []models.CapabilityRequest
}

func (f *Fake) Generate(ctx context.Context, req models.CapabilityRequest) (*models.CapabilityResponse, error) {
	f.Calls = append(f.Calls, req)
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, req)
	}
	return &models.CapabilityResponse{Text: ""}, nil
}

func (f *Fake) Embed(ctx context.Context, text string) (models.EmbeddingVector, error) {
	if f.EmbedFunc != nil {
		return f.EmbedFunc(ctx, text)
	}
	return models.EmbeddingVector{0, 0, 0}, nil
}
