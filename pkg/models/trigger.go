package models

// TriggerType distinguishes the scheduling mechanism backing a
// trigger-category block (spec.md §4.F treats trigger-category nodes
// as scheduling metadata).
type TriggerType string

const (
	TriggerTypeCron     TriggerType = "cron"
	TriggerTypeInterval TriggerType = "interval"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeManual   TriggerType = "manual"
)

// Trigger binds a pipeline to a schedule or external event source.
// No scheduler in this module fires cron or interval triggers.
type Trigger struct {
	ID         string      `json:"id"`
	PipelineID string      `json:"pipeline_id"`
	Type       TriggerType `json:"type"`
	Schedule   string      `json:"schedule,omitempty"` // 5 or 6-field cron expression
	Enabled    bool        `json:"enabled"`
}
