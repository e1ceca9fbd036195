package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kkkaaai/blockforge/pkg/models"
)

// decomposeResponse is the strict schema the decompose stage's raw
// model text must parse into (spec.md §4.D, "Validated against a
// strict decompose schema").
type decomposeResponse struct {
	RequiredBlocks []models.RequiredBlockSpec `json:"required_blocks"`
}

// parseDecompose strips fencing and parses+validates the decompose
// stage's raw response.
func parseDecompose(text string) ([]models.RequiredBlockSpec, error) {
	var resp decomposeResponse
	if err := json.Unmarshal([]byte(stripFence(text)), &resp); err != nil {
		return nil, fmt.Errorf("parse decompose response: %w", err)
	}
	if len(resp.RequiredBlocks) == 0 {
		return nil, fmt.Errorf("decompose response has no required_blocks")
	}
	for i, rb := range resp.RequiredBlocks {
		if rb.ExpectedID == "" && rb.Purpose == "" {
			return nil, fmt.Errorf("required_blocks[%d]: must set expected_id or purpose", i)
		}
	}
	return resp.RequiredBlocks, nil
}

// pipelineResponse is the wire stage's raw output envelope.
type pipelineResponse struct {
	Pipeline models.Pipeline `json:"pipeline"`
}

func parsePipeline(text string) (*models.Pipeline, error) {
	trimmed := stripFence(text)

	var wrapped pipelineResponse
	if err := json.Unmarshal([]byte(trimmed), &wrapped); err == nil && len(wrapped.Pipeline.Nodes) > 0 {
		return &wrapped.Pipeline, nil
	}

	var bare models.Pipeline
	if err := json.Unmarshal([]byte(trimmed), &bare); err != nil {
		return nil, fmt.Errorf("parse pipeline response: %w", err)
	}
	return &bare, nil
}

func stripFence(text string) string {
	t := strings.TrimSpace(text)
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}
