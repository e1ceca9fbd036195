package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kkkaaai/blockforge/internal/config"
	"github.com/kkkaaai/blockforge/pkg/capability"
	"github.com/kkkaaai/blockforge/pkg/models"
	"github.com/kkkaaai/blockforge/pkg/registry"
)

// maxDecomposeRetries / maxCreationRetries are the "small cap" /
// "up to 3 times per block" bounds from spec.md §4.D.
const (
	maxDecomposeRetries = 3
	maxCreationRetries  = 3
)

// BlockRegistry is the subset of *registry.Registry the planner needs,
// narrowed to keep this package testable without a live database.
type BlockRegistry interface {
	Search(query string, queryEmbedding []float32, limit int) []registry.Scored
	Register(ctx context.Context, b *models.BlockDefinition) error
}

// BlockSynthesizer is the subset of *synthesizer.Synthesizer the
// planner needs.
type BlockSynthesizer interface {
	Synthesize(ctx context.Context, req models.SynthesisRequest) (*models.SynthesisResult, error)
}

// Planner drives the four-stage pipeline described in spec.md §4.D.
// Grounded on internal/application/observer's event-channel discipline
// (one writer, typed events) and pkg/engine/dag_executor.go's
// stage-sequencing/retry-counter shape, adapted from workflow
// execution stages to planning stages.
type Planner struct {
	cap      capability.Capability
	registry BlockRegistry
	synth    BlockSynthesizer
	cfg      config.SynthesisConfig
}

// New builds a Planner.
func New(cap capability.Capability, reg BlockRegistry, synth BlockSynthesizer, cfg config.SynthesisConfig) *Planner {
	return &Planner{cap: cap, registry: reg, synth: synth, cfg: cfg}
}

// Plan runs the full decompose → search → (create | wire) → done|failed
// state machine for one intent, emitting events on events as it goes.
// events is closed by Plan before returning.
func (p *Planner) Plan(ctx context.Context, intent, userID string, events chan<- Event) (*models.PlannerState, error) {
	defer close(events)

	state := models.NewPlannerState(intent, userID)
	emit := func(e Event) {
		e.Timestamp = time.Now()
		events <- e
	}

	emit(Event{Type: EventStageEntry, Stage: "decomposing"})
	required, err := p.decompose(ctx, intent, emit)
	if err != nil {
		state.Status = models.PlannerStatusFailed
		emit(Event{Type: EventComplete, Stage: "failed", Message: err.Error(), Err: err})
		return state, err
	}
	state.RequiredBlocks = required
	emit(Event{Type: EventStageResult, Stage: "decomposing", Message: fmt.Sprintf("%d required blocks", len(required))})

	state.Status = models.PlannerStatusSearching
	emit(Event{Type: EventStageEntry, Stage: "searching"})
	p.search(ctx, state, emit)
	emit(Event{Type: EventStageResult, Stage: "searching", Message: fmt.Sprintf("%d matched, %d missing", len(state.MatchedBlocks), len(state.MissingBlocks))})

	if len(state.MissingBlocks) > 0 {
		state.Status = models.PlannerStatusCreating
		emit(Event{Type: EventStageEntry, Stage: "creating"})
		p.create(ctx, state, emit)
		emit(Event{Type: EventStageResult, Stage: "creating", Message: fmt.Sprintf("%d creation failures", len(state.CreationFailures))})
	}

	state.Status = models.PlannerStatusWiring
	emit(Event{Type: EventStageEntry, Stage: "wiring"})
	pipeline, err := p.wire(ctx, state, emit)
	if err != nil {
		state.Status = models.PlannerStatusFailed
		emit(Event{Type: EventComplete, Stage: "failed", Message: err.Error(), Err: err})
		return state, err
	}
	state.PipelineJSON = pipeline
	state.Status = models.PlannerStatusDone
	emit(Event{Type: EventComplete, Stage: "done"})
	return state, nil
}

func (p *Planner) decompose(ctx context.Context, intent string, emit func(Event)) ([]models.RequiredBlockSpec, error) {
	prompt := fmt.Sprintf("Decompose this intent into the capabilities needed to satisfy it.\nIntent: %s", intent)

	var lastErr error
	for attempt := 1; attempt <= maxDecomposeRetries; attempt++ {
		emit(Event{Type: EventPrompt, Stage: "decomposing", OutgoingPrompt: prompt})
		resp, err := p.cap.Generate(ctx, models.CapabilityRequest{
			System:   decomposeSystemPrompt,
			User:     prompt,
			Deadline: 30 * time.Second,
		})
		if err != nil {
			lastErr = err
			continue
		}
		emit(Event{Type: EventPrompt, Stage: "decomposing", IncomingText: resp.Text})

		required, err := parseDecompose(resp.Text)
		if err != nil {
			lastErr = err
			emit(Event{Type: EventValidationResult, Stage: "decomposing", Valid: false, ValidationErr: err.Error()})
			prompt = fmt.Sprintf("%s\n\nThe previous response failed validation: %s\nRespond again with valid JSON.", prompt, err)
			continue
		}
		emit(Event{Type: EventValidationResult, Stage: "decomposing", Valid: true})
		return required, nil
	}
	return nil, fmt.Errorf("decompose: exhausted %d attempts: %w", maxDecomposeRetries, lastErr)
}

const decomposeSystemPrompt = `Decompose the user's intent into the distinct capabilities required to
satisfy it. Respond with nothing but JSON:
{"required_blocks": [{"expected_id": "...", "purpose": "...", "input_schema": {...}, "output_schema": {...}}]}
Each entry sets either expected_id (referencing a capability you expect
already exists) or purpose+schemas (describing a new capability). Do
not mention any specific block catalog — reason about capabilities in
the abstract.`

// search resolves each RequiredBlockSpec against the registry, per
// spec.md §4.D's searching stage. The legacy llm execution_type is
// already treated as python by the registry/search layer, so no
// special-casing is needed here.
func (p *Planner) search(ctx context.Context, state *models.PlannerState, emit func(Event)) {
	for _, req := range state.RequiredBlocks {
		query := req.Purpose
		if query == "" {
			query = req.ExpectedID
		}

		var embedding []float32
		if vec, err := p.cap.Embed(ctx, query); err == nil {
			embedding = vec
		}

		candidates := p.registry.Search(query, embedding, 1)
		if len(candidates) == 0 {
			state.MissingBlocks = append(state.MissingBlocks, req)
			emit(Event{Type: EventSearchResult, Stage: "searching", RequirementPurpose: query, Found: false})
			continue
		}
		match := candidates[0].Block
		state.MatchedBlocks = append(state.MatchedBlocks, models.MatchedBlock{Spec: req, Block: match})
		emit(Event{Type: EventSearchResult, Stage: "searching", RequirementPurpose: query, Found: true, MatchedBlockID: match.ID})
	}
}

// create synthesizes each missing block, retrying up to
// maxCreationRetries times with the previous failure appended to the
// prompt context (carried via SynthesisRequest.ExpectedOutput's
// sibling fields on retry — the synthesizer itself owns the
// generate/repair loop; this layer only re-invokes it with the same
// request when the whole synthesis attempt fails outright).
func (p *Planner) create(ctx context.Context, state *models.PlannerState, emit func(Event)) {
	var stillMissing []models.RequiredBlockSpec
	for _, spec := range state.MissingBlocks {
		req := synthesisRequestFromSpec(spec, p.cfg)

		created := false
		for attempt := 1; attempt <= maxCreationRetries; attempt++ {
			result, err := p.synth.Synthesize(ctx, req)
			if err != nil {
				emit(Event{Type: EventCreateResult, Stage: "creating", BlockPurpose: spec.Purpose, Attempt: attempt, CreateOK: false, CreateFailure: err.Error()})
				continue
			}
			if !result.OK {
				emit(Event{Type: EventCreateResult, Stage: "creating", BlockPurpose: spec.Purpose, Attempt: attempt, CreateOK: false, CreateFailure: result.LastFailure})
				continue
			}

			if regErr := p.registry.Register(ctx, result.Block); regErr != nil {
				emit(Event{Type: EventCreateResult, Stage: "creating", BlockPurpose: spec.Purpose, Attempt: attempt, CreateOK: false, CreateFailure: regErr.Error()})
				continue
			}

			state.MatchedBlocks = append(state.MatchedBlocks, models.MatchedBlock{Spec: spec, Block: result.Block})
			emit(Event{Type: EventCreateResult, Stage: "creating", BlockPurpose: spec.Purpose, Attempt: attempt, CreateOK: true, MatchedBlockID: result.Block.ID})
			created = true
			break
		}

		if !created {
			stillMissing = append(stillMissing, spec)
		}
	}
	state.CreationFailures = stillMissing
}

// synthesisRequestFromSpec derives a SynthesisRequest from a
// RequiredBlockSpec, building a minimal synthetic test case from
// declared property types when no example input/output is available
// (spec.md §4.D, "deriving a minimal synthetic test case from
// declared types when examples are absent" — a supplemented feature,
// see SPEC_FULL.md).
func synthesisRequestFromSpec(spec models.RequiredBlockSpec, cfg config.SynthesisConfig) models.SynthesisRequest {
	testInput := zeroValueFor(spec.InputSchema)
	expectedOutput := zeroValueFor(spec.OutputSchema)

	return models.SynthesisRequest{
		Purpose:        spec.Purpose,
		InputSchema:    spec.InputSchema,
		OutputSchema:   spec.OutputSchema,
		TestInput:      testInput,
		ExpectedOutput: expectedOutput,
		AllowedModules: cfg.AllowedModules,
		BannedModules:  cfg.BannedModules,
	}
}

func zeroValueFor(schema models.Schema) map[string]any {
	out := make(map[string]any, len(schema.Properties))
	for name, prop := range schema.Properties {
		switch prop.Type {
		case "integer":
			out[name] = 0
		case "number":
			out[name] = 0.0
		case "boolean":
			out[name] = false
		default:
			out[name] = ""
		}
	}
	return out
}

// wire makes the single language call that produces Pipeline JSON
// given the intent plus the matched+created block catalog, per
// spec.md §4.D's wiring stage.
func (p *Planner) wire(ctx context.Context, state *models.PlannerState, emit func(Event)) (*models.Pipeline, error) {
	catalog, err := json.Marshal(wireCatalog(state.MatchedBlocks))
	if err != nil {
		return nil, fmt.Errorf("wire: marshal catalog: %w", err)
	}

	prompt := fmt.Sprintf("Intent: %s\n\nAvailable blocks:\n%s", state.Intent, catalog)
	emit(Event{Type: EventPrompt, Stage: "wiring", OutgoingPrompt: prompt})

	resp, err := p.cap.Generate(ctx, models.CapabilityRequest{
		System:   wireSystemPrompt,
		User:     prompt,
		Deadline: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: generate: %w", err)
	}
	emit(Event{Type: EventPrompt, Stage: "wiring", IncomingText: resp.Text})

	pipeline, err := parsePipeline(resp.Text)
	if err != nil {
		emit(Event{Type: EventValidationResult, Stage: "wiring", Valid: false, ValidationErr: err.Error()})
		return nil, fmt.Errorf("wire: %w", err)
	}
	pipeline.UserPrompt = state.Intent

	if err := pipeline.Validate(); err != nil {
		emit(Event{Type: EventValidationResult, Stage: "wiring", Valid: false, ValidationErr: err.Error()})
		return nil, fmt.Errorf("wire: invalid pipeline: %w", err)
	}
	emit(Event{Type: EventValidationResult, Stage: "wiring", Valid: true})
	return pipeline, nil
}

const wireSystemPrompt = `Produce a Pipeline JSON wiring the given blocks together to satisfy the
intent. Respond with nothing but JSON:
{"id": "...", "name": "...", "nodes": [{"id": "n1", "block_id": "...", "inputs": {...}}],
 "edges": [{"from": "n1", "to": "n2"}], "memory_keys": []}
Node ids must be sequential (n1, n2, ...). Every templated input must
reference a prior node via a declared edge, a memory key, or "user".
The first node's inputs must be literal values only.`

type wireCatalogEntry struct {
	BlockID      string          `json:"block_id"`
	Description  string          `json:"description"`
	InputSchema  models.Schema   `json:"input_schema"`
	OutputSchema models.Schema   `json:"output_schema"`
	Example      *models.Example `json:"example,omitempty"`
}

func wireCatalog(matched []models.MatchedBlock) []wireCatalogEntry {
	entries := make([]wireCatalogEntry, 0, len(matched))
	for _, m := range matched {
		entry := wireCatalogEntry{
			BlockID:      m.Block.ID,
			Description:  m.Block.Description,
			InputSchema:  m.Block.InputSchema,
			OutputSchema: m.Block.OutputSchema,
		}
		if len(m.Block.Examples) > 0 {
			entry.Example = &m.Block.Examples[0]
		}
		entries = append(entries, entry)
	}
	return entries
}
