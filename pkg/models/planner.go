package models

import "time"

// PlannerStatus tracks the planner's progress through its four stages
// (spec.md §4.D state machine).
type PlannerStatus string

const (
	PlannerStatusDecomposing PlannerStatus = "decomposing"
	PlannerStatusSearching   PlannerStatus = "searching"
	PlannerStatusCreating    PlannerStatus = "creating"
	PlannerStatusWiring      PlannerStatus = "wiring"
	PlannerStatusDone        PlannerStatus = "done"
	PlannerStatusFailed      PlannerStatus = "failed"
)

// RequiredBlockSpec is one entry of PlannerState.RequiredBlocks: either
// a reference to an expected existing block id, or a description of a
// new block by purpose and schemas (spec.md §4.D, decomposing stage).
type RequiredBlockSpec struct {
	ExpectedID  string `json:"expected_id,omitempty"`
	Purpose     string `json:"purpose"`
	InputSchema Schema `json:"input_schema"`
	OutputSchema Schema `json:"output_schema"`
	// Complexity is an optional hint (supplemented feature, see
	// SPEC_FULL.md) the wire stage may use to bias synthesis iteration
	// caps. Does not change any required field.
	Complexity string `json:"complexity,omitempty"`
}

// MatchedBlock pairs a RequiredBlockSpec with the registry candidate
// that satisfied it.
type MatchedBlock struct {
	Spec  RequiredBlockSpec `json:"spec"`
	Block *BlockDefinition  `json:"block"`
}

// PlannerState is the four-field state described in spec.md §3,
// "Planner State", advancing through the four stages.
type PlannerState struct {
	Status PlannerStatus `json:"status"`

	RequiredBlocks []RequiredBlockSpec `json:"required_blocks"`
	MatchedBlocks  []MatchedBlock      `json:"matched_blocks"`
	MissingBlocks  []RequiredBlockSpec `json:"missing_blocks"`

	// CreationFailures records block specs that failed synthesis
	// definitively (spec.md §4.D, "creating" stage).
	CreationFailures []RequiredBlockSpec `json:"creation_failures,omitempty"`

	PipelineJSON *Pipeline `json:"pipeline_json,omitempty"`

	Intent    string    `json:"intent"`
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
}

// NewPlannerState starts a fresh planner run in the decomposing stage.
func NewPlannerState(intent, userID string) *PlannerState {
	return &PlannerState{
		Status:    PlannerStatusDecomposing,
		Intent:    intent,
		UserID:    userID,
		StartedAt: time.Now(),
	}
}
