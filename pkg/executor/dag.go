// Package executor implements the DAG Executor (spec.md §4.F): it runs
// a Pipeline JSON end-to-end in dependency-ordered, bounded-concurrency
// waves, producing a Run State. Adapted from pkg/engine/dag_executor.go
// and pkg/engine/node_executor.go's wave/node execution shape,
// generalized from workflow nodes (Go-typed Executor per node type) to
// data-defined blocks (BlockDefinition.ExecutionType selects python
// sandbox execution or text_generation capability calls).
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kkkaaai/blockforge/internal/config"
	"github.com/kkkaaai/blockforge/pkg/capability"
	"github.com/kkkaaai/blockforge/pkg/models"
	"github.com/kkkaaai/blockforge/pkg/resolver"
	"github.com/kkkaaai/blockforge/pkg/sandbox"
)

// BlockLookup is the subset of *registry.Registry the DAG executor
// needs to resolve a node's block_id to its definition.
type BlockLookup interface {
	Get(ctx context.Context, id string) (*models.BlockDefinition, error)
}

// MemoryStore loads and persists the per-user memory snapshot around a
// run (spec.md §4.F "Memory lifecycle"). Concrete implementation lives
// in internal/infrastructure/storage, bun-backed like the teacher's
// workflow_repository.go.
type MemoryStore interface {
	Load(ctx context.Context, userID string) (map[string]any, error)
	Save(ctx context.Context, userID, pipelineID string, memory map[string]any, results map[string]*models.NodeResult) error
}

// Runner runs Pipeline JSON to completion.
type Runner struct {
	blocks    BlockLookup
	sandbox   sandbox.Sandbox
	cap       capability.Capability
	memory    MemoryStore
	cfg       config.ExecutorConfig
	condition *conditionEvaluator
}

// New builds a DAG Executor.
func New(blocks BlockLookup, sb sandbox.Sandbox, cap capability.Capability, mem MemoryStore, cfg config.ExecutorConfig) *Runner {
	if cfg.MaxWaveConcurrency <= 0 {
		cfg.MaxWaveConcurrency = 4
	}
	return &Runner{blocks: blocks, sandbox: sb, cap: cap, memory: mem, cfg: cfg, condition: newConditionEvaluator()}
}

// Run executes pipeline end-to-end for one run, returning the final
// RunState. A non-nil error is returned only for setup failures (bad
// DAG, memory load failure); per-node failures are recorded in
// RunState.Results/Log and do not abort the run (spec.md §4.F).
func (e *Runner) Run(ctx context.Context, pipeline *models.Pipeline, runID, userID string, triggerData map[string]any) (*models.RunState, error) {
	waves, err := pipeline.TopologicalWaves()
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	runState := models.NewRunState(pipeline.ID, runID, userID)
	runState.TriggerData = triggerData

	if e.memory != nil {
		mem, err := e.memory.Load(ctx, userID)
		if err != nil {
			runState.AppendLog(models.LogEntry{Stage: "memory.load", Status: "failed", Error: err.Error()})
		} else {
			runState.Memory = mem
		}
	}

	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}

	var resultsMu sync.Mutex
	var memoryMu sync.Mutex
	blockCache := make(map[string]*models.BlockDefinition)
	var blockCacheMu sync.Mutex

	for _, wave := range waves {
		runState.AppendLog(models.LogEntry{Stage: "wave.started", Status: "running"})

		group, waveCtx := errgroup.WithContext(ctx)
		group.SetLimit(e.cfg.MaxWaveConcurrency)

		for _, nodeID := range wave {
			nodeID := nodeID
			group.Go(func() error {
				result := e.runNode(waveCtx, pipeline, runState, nodeID, blockCache, &blockCacheMu, &resultsMu, &memoryMu)

				resultsMu.Lock()
				runState.Results[nodeID] = result
				resultsMu.Unlock()

				runState.AppendLog(models.LogEntry{
					Stage: "node", NodeID: nodeID, Status: string(result.Status),
					Error: result.Error, Duration: result.Duration,
				})
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			runState.AppendLog(models.LogEntry{Stage: "wave.failed", Status: "failed", Error: err.Error()})
		}
		runState.AppendLog(models.LogEntry{Stage: "wave.completed", Status: "completed"})
	}

	cancelled := ctx.Err() != nil
	runState.Finish(cancelled)

	if e.memory != nil {
		if err := e.memory.Save(ctx, userID, pipeline.ID, runState.Memory, runState.Results); err != nil {
			runState.AppendLog(models.LogEntry{Stage: "memory.save", Status: "warning", Error: err.Error()})
		}
	}

	return runState, nil
}

func (e *Runner) runNode(
	ctx context.Context,
	pipeline *models.Pipeline,
	runState *models.RunState,
	nodeID string,
	blockCache map[string]*models.BlockDefinition,
	blockCacheMu *sync.Mutex,
	resultsMu *sync.Mutex,
	memoryMu *sync.Mutex,
) *models.NodeResult {
	start := time.Now()
	node, err := pipeline.GetNode(nodeID)
	if err != nil {
		return failResult(nodeID, start, err)
	}

	block, err := e.lookupBlock(ctx, node.BlockID, blockCache, blockCacheMu)
	if err != nil {
		return failResult(nodeID, start, err)
	}

	if block.Category == models.CategoryTrigger {
		return &models.NodeResult{
			NodeID: nodeID, Status: models.NodeStatusTriggered,
			Output: map[string]any{"status": "triggered"}, Duration: time.Since(start),
		}
	}

	satisfied, err := e.edgesSatisfied(pipeline, nodeID, runState, resultsMu)
	if err != nil {
		return failResult(nodeID, start, err)
	}
	if !satisfied {
		return &models.NodeResult{NodeID: nodeID, Status: models.NodeStatusSkipped, Duration: time.Since(start)}
	}

	inputs, err := e.resolveInputs(node, block, runState, resultsMu)
	if err != nil {
		return failResult(nodeID, start, err)
	}

	var output map[string]any
	switch block.NormalizedExecutionType() {
	case models.ExecutionTypePython:
		output, err = e.runPython(ctx, block, inputs)
	case models.ExecutionTypeTextGeneration:
		output, err = e.runTextGeneration(ctx, block, inputs)
	default:
		err = fmt.Errorf("unsupported execution_type %q", block.ExecutionType)
	}
	if err != nil {
		return failResult(nodeID, start, err)
	}

	if block.Category == models.CategoryMemory {
		memoryMu.Lock()
		for k, v := range output {
			runState.Memory[k] = v
		}
		memoryMu.Unlock()
	}

	return &models.NodeResult{NodeID: nodeID, Status: models.NodeStatusSucceeded, Output: output, Duration: time.Since(start)}
}

func failResult(nodeID string, start time.Time, err error) *models.NodeResult {
	return &models.NodeResult{NodeID: nodeID, Status: models.NodeStatusFailed, Error: err.Error(), Duration: time.Since(start)}
}

func (e *Runner) lookupBlock(ctx context.Context, blockID string, cache map[string]*models.BlockDefinition, mu *sync.Mutex) (*models.BlockDefinition, error) {
	mu.Lock()
	if b, ok := cache[blockID]; ok {
		mu.Unlock()
		return b, nil
	}
	mu.Unlock()

	block, err := e.blocks.Get(ctx, blockID)
	if err != nil {
		return nil, fmt.Errorf("lookup block %q: %w", blockID, err)
	}

	mu.Lock()
	cache[blockID] = block
	mu.Unlock()
	return block, nil
}

// edgesSatisfied applies the OR-semantics rule over nodeID's incoming
// edges: unconditional by default, but if every incoming edge carries
// a Condition, at least one must evaluate true.
func (e *Runner) edgesSatisfied(pipeline *models.Pipeline, nodeID string, runState *models.RunState, resultsMu *sync.Mutex) (bool, error) {
	var incoming []*models.PipelineEdge
	for _, edge := range pipeline.Edges {
		if edge.To == nodeID {
			incoming = append(incoming, edge)
		}
	}

	hasConditional := false
	anySatisfied := false
	for _, edge := range incoming {
		if edge.Condition == "" {
			return true, nil
		}
		hasConditional = true

		resultsMu.Lock()
		predResult := runState.Results[edge.From]
		resultsMu.Unlock()

		var output map[string]any
		if predResult != nil {
			output = predResult.Output
		}
		ok, err := e.condition.evaluate(edge.Condition, output)
		if err != nil {
			return false, fmt.Errorf("edge %s->%s: %w", edge.From, edge.To, err)
		}
		if ok {
			anySatisfied = true
		}
	}

	if !hasConditional {
		return true, nil
	}
	return anySatisfied, nil
}

func (e *Runner) resolveInputs(node *models.PipelineNode, block *models.BlockDefinition, runState *models.RunState, resultsMu *sync.Mutex) (map[string]any, error) {
	resultsMu.Lock()
	nodeResults := make(map[string]any, len(runState.Results))
	for id, r := range runState.Results {
		if r.Status == models.NodeStatusFailed {
			nodeResults[id] = &models.UpstreamError{NodeID: id, Err: fmt.Errorf("%s", r.Error)}
			continue
		}
		nodeResults[id] = r.Output
	}
	resultsMu.Unlock()

	rctx := &resolver.Context{
		NodeResults: nodeResults,
		Memory:      runState.Memory,
		User:        runState.User,
		Trigger:     runState.TriggerData,
	}
	engine := resolver.New(rctx)

	resolved, err := engine.Resolve(node.Inputs)
	if err != nil {
		return nil, fmt.Errorf("resolve inputs: %w", err)
	}
	resolvedMap, ok := resolved.(map[string]any)
	if !ok {
		resolvedMap = map[string]any{}
	}

	coerced, err := resolver.CoerceInputs(resolvedMap, block.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("coerce inputs: %w", err)
	}
	return coerced, nil
}

func (e *Runner) runPython(ctx context.Context, block *models.BlockDefinition, inputs map[string]any) (map[string]any, error) {
	timeout := e.cfg.NodeTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	result, err := e.sandbox.Run(ctx, sandbox.Request{
		Code:         block.SourceCode,
		Inputs:       inputs,
		Timeout:      timeout,
		NeedsNetwork: block.Metadata.NeedsNetwork,
	})
	if err != nil {
		return nil, &models.SandboxError{Backend: "python", Err: err}
	}
	return result.Output, nil
}

func (e *Runner) runTextGeneration(ctx context.Context, block *models.BlockDefinition, inputs map[string]any) (map[string]any, error) {
	prompt := substitutePromptTemplate(block.PromptTemplate, inputs)
	system := textGenerationSystemPrompt(block)

	deadline := e.cfg.NodeTimeout
	if deadline <= 0 {
		deadline = 60 * time.Second
	}

	resp, err := e.cap.Generate(ctx, models.CapabilityRequest{System: system, User: prompt, Deadline: deadline})
	if err != nil {
		return nil, &models.CapabilityError{Capability: "generate", Err: err}
	}

	output, err := parseJSONObject(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("parse text_generation output: %w", err)
	}

	coerced, err := resolver.CoerceInputs(output, block.OutputSchema)
	if err != nil {
		return nil, fmt.Errorf("output_schema mismatch: %w", err)
	}
	return coerced, nil
}

func textGenerationSystemPrompt(block *models.BlockDefinition) string {
	schema, _ := json.Marshal(block.OutputSchema)
	return fmt.Sprintf(
		"%s\n%s\nRespond with nothing but a JSON object matching this output_schema: %s",
		block.Name, block.Description, schema,
	)
}

func substitutePromptTemplate(template string, inputs map[string]any) string {
	out := template
	for name, value := range inputs {
		out = strings.ReplaceAll(out, "{"+name+"}", fmt.Sprint(value))
	}
	return out
}

func parseJSONObject(text string) (map[string]any, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("parse JSON object: %w", err)
	}
	return out, nil
}
