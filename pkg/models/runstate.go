package models

import "time"

// NodeStatus is the outcome of one node's execution within a run.
type NodeStatus string

const (
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusTriggered NodeStatus = "triggered"
	// NodeStatusSkipped marks a node whose incoming conditional edges
	// were all unsatisfied (executor OR-semantics, see
	// models.PipelineEdge.Condition); it still produces a result so
	// downstream nodes can observe it ran, without invoking the block.
	NodeStatusSkipped NodeStatus = "skipped"
)

// NodeResult is the per-node result record stored in RunState.Results:
// a node's output object, or its failure, written exactly once
// (spec.md §3, "results[nX] is written exactly once").
type NodeResult struct {
	NodeID   string         `json:"node_id"`
	Status   NodeStatus     `json:"status"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// LogEntry is one ordered stage/node record in RunState.Log: status,
// error, duration, as named in spec.md §3.
type LogEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Stage     string        `json:"stage"`
	NodeID    string        `json:"node_id,omitempty"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// RunStatus is the aggregate outcome of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunState is the per-execution state described in spec.md §3: not
// persisted between nodes except through RunState itself. One
// instance exists per run and is mutated under the serialization
// rules of §5 (results writes, memory writes).
type RunState struct {
	PipelineID string `json:"pipeline_id"`
	RunID      string `json:"run_id"`
	UserID     string `json:"user_id"`

	// Results maps node id to that node's result, built incrementally.
	Results map[string]*NodeResult `json:"results"`

	// User carries opaque per-user facts loaded once at run start.
	User map[string]any `json:"user,omitempty"`

	// Memory is the mutable key→value snapshot: read at load, written
	// at save, visible to every node in the run as it mutates.
	Memory map[string]any `json:"memory"`

	Log []LogEntry `json:"log"`

	// TriggerData holds initial inputs injected into trigger-category
	// nodes before resolution.
	TriggerData map[string]any `json:"trigger_data,omitempty"`

	Status    RunStatus  `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// NewRunState builds an empty RunState ready for a fresh run.
func NewRunState(pipelineID, runID, userID string) *RunState {
	return &RunState{
		PipelineID: pipelineID,
		RunID:      runID,
		UserID:     userID,
		Results:    make(map[string]*NodeResult),
		Memory:     make(map[string]any),
		Status:     RunStatusRunning,
		StartedAt:  time.Now(),
	}
}

// HasResult reports whether nodeID already has a result recorded.
func (rs *RunState) HasResult(nodeID string) bool {
	_, ok := rs.Results[nodeID]
	return ok
}

// AnyFailed reports whether any node in Results failed — the run's
// aggregate status is failed iff this is true (spec.md §4.F).
func (rs *RunState) AnyFailed() bool {
	for _, r := range rs.Results {
		if r.Status == NodeStatusFailed {
			return true
		}
	}
	return false
}

// AppendLog records a LogEntry.
func (rs *RunState) AppendLog(entry LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	rs.Log = append(rs.Log, entry)
}

// Finish sets the terminal status and EndedAt, deriving status from
// AnyFailed unless the caller forces cancellation.
func (rs *RunState) Finish(cancelled bool) {
	now := time.Now()
	rs.EndedAt = &now
	switch {
	case cancelled:
		rs.Status = RunStatusCancelled
	case rs.AnyFailed():
		rs.Status = RunStatusFailed
	default:
		rs.Status = RunStatusCompleted
	}
}
