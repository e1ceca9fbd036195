package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/kkkaaai/blockforge/pkg/executor"
	"github.com/kkkaaai/blockforge/pkg/models"
)

var _ executor.MemoryStore = (*MemoryRepository)(nil)

// memoryRow is the bun-mapped persistence shape of one user's memory
// snapshot: a single JSONB document per user, upserted on every save,
// the same single-document-per-key pattern as pkg/registry's row for
// BlockDefinition (one table, one JSONB payload column, PK upsert).
type memoryRow struct {
	bun.BaseModel `bun:"table:user_memory,alias:um"`

	UserID    string    `bun:"user_id,pk"`
	Memory    []byte    `bun:"memory,type:jsonb"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// lastRunRow records the most recent run's per-node results for a
// pipeline, for inspection/debugging; it does not feed back into the
// next run (spec.md §3: nothing persists between runs except Memory).
type lastRunRow struct {
	bun.BaseModel `bun:"table:pipeline_last_run,alias:plr"`

	PipelineID string    `bun:"pipeline_id,pk"`
	UserID     string    `bun:"user_id,notnull"`
	Results    []byte    `bun:"results,type:jsonb"`
	RanAt      time.Time `bun:"ran_at,notnull,default:current_timestamp"`
}

// MemoryRepository implements pkg/executor.MemoryStore: the per-user
// memory snapshot loaded at the start of a run and saved at the end
// (spec.md §4.F memory lifecycle), grounded on the teacher's
// WorkflowRepository.Update "load existing, merge, write back" shape
// but simplified to a single JSONB upsert since memory has no
// nodes/edges to smart-merge, only a flat key-value map.
type MemoryRepository struct {
	db *bun.DB
}

// NewMemoryRepository returns a MemoryRepository backed by db.
func NewMemoryRepository(db *bun.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

// Load returns userID's current memory snapshot, or an empty map if
// the user has never run a pipeline before.
func (r *MemoryRepository) Load(ctx context.Context, userID string) (map[string]any, error) {
	row := &memoryRow{}
	err := r.db.NewSelect().Model(row).Where("user_id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory repository: load %s: %w", userID, err)
	}

	memory := make(map[string]any)
	if len(row.Memory) > 0 {
		if err := json.Unmarshal(row.Memory, &memory); err != nil {
			return nil, fmt.Errorf("memory repository: decode %s: %w", userID, err)
		}
	}
	return memory, nil
}

// Save upserts userID's memory snapshot and records the run's results
// for later inspection. A failure here is downgraded to a log warning
// by the caller (pkg/executor.Runner), never aborts the run.
func (r *MemoryRepository) Save(ctx context.Context, userID, pipelineID string, memory map[string]any, results map[string]*models.NodeResult) error {
	encodedMemory, err := json.Marshal(memory)
	if err != nil {
		return fmt.Errorf("memory repository: encode memory: %w", err)
	}
	encodedResults, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("memory repository: encode results: %w", err)
	}

	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		row := &memoryRow{UserID: userID, Memory: encodedMemory, UpdatedAt: now}
		if _, err := tx.NewInsert().
			Model(row).
			On("CONFLICT (user_id) DO UPDATE").
			Set("memory = EXCLUDED.memory").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx); err != nil {
			return fmt.Errorf("upsert memory: %w", err)
		}

		if pipelineID == "" {
			return nil
		}
		run := &lastRunRow{PipelineID: pipelineID, UserID: userID, Results: encodedResults, RanAt: now}
		if _, err := tx.NewInsert().
			Model(run).
			On("CONFLICT (pipeline_id) DO UPDATE").
			Set("user_id = EXCLUDED.user_id").
			Set("results = EXCLUDED.results").
			Set("ran_at = EXCLUDED.ran_at").
			Exec(ctx); err != nil {
			return fmt.Errorf("upsert last run: %w", err)
		}
		return nil
	})
}
