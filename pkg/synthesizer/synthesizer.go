// Package synthesizer implements the Block Synthesizer (spec.md §4.C):
// a generate → compile → sandbox-execute → validate → repair loop that
// turns a SynthesisRequest into a working BlockDefinition.
package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kkkaaai/blockforge/internal/config"
	"github.com/kkkaaai/blockforge/pkg/capability"
	"github.com/kkkaaai/blockforge/pkg/models"
	"github.com/kkkaaai/blockforge/pkg/sandbox"
)

// Synthesizer runs the generate/compile/execute/validate/repair loop.
// Grounded on builtin/llm.go's generate-call plumbing (request
// building, JSON parsing of a model response) and pkg/sandbox for the
// execute step; the iteration/repair loop itself is this package's own
// state machine, there being no equivalent in the teacher.
type Synthesizer struct {
	cap     capability.Capability
	sandbox sandbox.Sandbox
	cfg     config.SynthesisConfig

	// compileOverride lets tests swap out the python3 syntax check,
	// which isn't available in every test environment.
	compileOverride func(source string) error
}

// New builds a Synthesizer over a capability and a sandbox backend.
func New(cap capability.Capability, sb sandbox.Sandbox, cfg config.SynthesisConfig) *Synthesizer {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 6
	}
	return &Synthesizer{cap: cap, sandbox: sb, cfg: cfg, compileOverride: CompileCheck}
}

// generatedSource is the JSON shape the creation prompt asks the
// language capability to return (spec.md §4.C step 2).
type generatedSource struct {
	SourceCode string `json:"source_code"`
}

// Synthesize runs the loop described in spec.md §4.C, returning a
// SynthesisResult. The returned error is non-nil only for fatal
// exhaustion (*models.SynthesisMaxIterationsError); a block that fails
// validation mid-loop is retried, not returned as an error.
func (s *Synthesizer) Synthesize(ctx context.Context, req models.SynthesisRequest) (*models.SynthesisResult, error) {
	var lastFailure error
	prompt := s.buildPrompt(req, "")

	for iteration := 1; iteration <= s.cfg.MaxIterations; iteration++ {
		deadline := s.cfg.Timeout
		if deadline <= 0 {
			deadline = 30 * time.Second
		}

		resp, err := s.cap.Generate(ctx, models.CapabilityRequest{
			System:   creationSystemPrompt,
			User:     prompt,
			Deadline: deadline,
		})
		if err != nil {
			lastFailure = fmt.Errorf("capability generate: %w", err)
			prompt = s.buildPrompt(req, lastFailure.Error())
			continue
		}

		sourceCode, err := extractSourceCode(resp.Text)
		if err != nil {
			lastFailure = err
			prompt = s.buildPrompt(req, lastFailure.Error())
			continue
		}

		if err := s.compileOverride(sourceCode); err != nil {
			lastFailure = fmt.Errorf("compile: %w", err)
			prompt = s.buildPrompt(req, lastFailure.Error())
			continue
		}

		result, err := s.sandbox.Run(ctx, sandbox.Request{
			Code:    sourceCode,
			Inputs:  req.TestInput,
			Timeout: deadline,
		})
		if err != nil {
			lastFailure = fmt.Errorf("sandbox execute: %w (stderr: %s)", err, tail(result, 80))
			prompt = s.buildPrompt(req, lastFailure.Error())
			continue
		}

		if err := validateOutputs(result.Output, req.OutputSchema, req.ExpectedOutput); err != nil {
			lastFailure = err
			prompt = s.buildPrompt(req, lastFailure.Error())
			continue
		}

		block := &models.BlockDefinition{
			ID:            uuid.NewString(),
			Name:          req.Purpose,
			Description:   req.Purpose,
			Category:      models.CategoryProcess,
			ExecutionType: models.ExecutionTypePython,
			InputSchema:   req.InputSchema,
			OutputSchema:  req.OutputSchema,
			SourceCode:    sourceCode,
			Examples: []models.Example{
				{Inputs: req.TestInput, Outputs: req.ExpectedOutput},
			},
			Metadata: models.BlockMetadata{CreatedBy: models.CreatedBySynthesizer},
		}

		return &models.SynthesisResult{OK: true, Block: block, Iterations: iteration}, nil
	}

	return &models.SynthesisResult{OK: false, Iterations: s.cfg.MaxIterations, LastFailure: errString(lastFailure)},
		&models.SynthesisMaxIterationsError{Iterations: s.cfg.MaxIterations, LastFailure: lastFailure}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func tail(result *sandbox.Result, lines int) string {
	if result == nil {
		return ""
	}
	parts := strings.Split(strings.TrimRight(result.Stderr, "\n"), "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}

// extractSourceCode strips Markdown code fencing if present and parses
// the JSON envelope the creation prompt requests.
func extractSourceCode(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var parsed generatedSource
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return "", fmt.Errorf("parse generated block: %w", err)
	}
	if strings.TrimSpace(parsed.SourceCode) == "" {
		return "", fmt.Errorf("generated block has no source_code")
	}
	return parsed.SourceCode, nil
}
