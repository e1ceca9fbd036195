// Package registry implements the Block Registry (spec.md §4.A): a
// Postgres-backed catalog of block definitions with a Redis read-through
// cache and an in-memory hybrid full-text/vector search index.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"golang.org/x/sync/singleflight"

	"github.com/kkkaaai/blockforge/internal/infrastructure/cache"
	"github.com/kkkaaai/blockforge/pkg/capability"
	"github.com/kkkaaai/blockforge/pkg/models"
	"github.com/kkkaaai/blockforge/pkg/synthesizer"
)

// cacheTTL is how long a single block's JSON stays in Redis before the
// next Get falls through to Postgres again.
const cacheTTL = 5 * time.Minute

// Registry is the Block Registry: CRUD plus hybrid search over
// BlockDefinition, grounded on the teacher's WorkflowRepository
// (bun CRUD) and RedisCache (TTL read-through), generalized from
// workflow storage to block storage.
type Registry struct {
	db    *bun.DB
	cache *cache.RedisCache
	cap   capability.Capability

	mu    sync.RWMutex
	index map[string]*models.BlockDefinition // in-memory mirror, rebuilt on write, used for Search

	group singleflight.Group

	// compileCheck lets tests swap out the python3 syntax check, the
	// same override pattern pkg/synthesizer.Synthesizer uses for the
	// same reason: python3 isn't available in every test environment.
	compileCheck func(source string) error
}

// New returns a Registry backed by db, optionally caching reads
// through c (nil disables caching, useful for tests). cap supplies the
// embedding call Register runs before a block is accepted into the
// catalog (spec.md §4.A save algorithm); a nil cap skips embedding,
// which Search tolerates by falling back to text-only scoring.
func New(db *bun.DB, c *cache.RedisCache, cap capability.Capability) *Registry {
	return &Registry{
		db:           db,
		cache:        c,
		cap:          cap,
		index:        make(map[string]*models.BlockDefinition),
		compileCheck: synthesizer.CompileCheck,
	}
}

// Register validates, compile-checks, and embeds a block before
// upserting it, refreshing both the Redis cache entry and the
// in-memory search index. Per spec.md §4.A's save algorithm, a block
// whose source fails to compile or whose embedding request fails is
// rejected outright rather than stored without one of those guarantees.
func (r *Registry) Register(ctx context.Context, b *models.BlockDefinition) error {
	if err := b.Validate(); err != nil {
		return err
	}

	if b.NormalizedExecutionType() == models.ExecutionTypePython {
		if err := r.compileCheck(b.SourceCode); err != nil {
			return &models.ValidationError{Kind: models.SourceCompileKind, Field: "source_code", Message: err.Error()}
		}
	}

	if r.cap != nil {
		embedding, err := r.cap.Embed(ctx, b.SearchText())
		if err != nil {
			return &models.CapabilityError{Capability: "embed", Err: fmt.Errorf("registry: embed block %s: %w", b.ID, err)}
		}
		b.Embedding = embedding
	}

	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	rowModel, err := toRow(b)
	if err != nil {
		return fmt.Errorf("registry: marshal block %s: %w", b.ID, err)
	}

	_, err = r.db.NewInsert().
		Model(rowModel).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("description = EXCLUDED.description").
		Set("category = EXCLUDED.category").
		Set("execution_type = EXCLUDED.execution_type").
		Set("input_schema = EXCLUDED.input_schema").
		Set("output_schema = EXCLUDED.output_schema").
		Set("source_code = EXCLUDED.source_code").
		Set("prompt_template = EXCLUDED.prompt_template").
		Set("use_when = EXCLUDED.use_when").
		Set("tags = EXCLUDED.tags").
		Set("examples = EXCLUDED.examples").
		Set("embedding = EXCLUDED.embedding").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("registry: upsert block %s: %w", b.ID, err)
	}

	r.mu.Lock()
	r.index[b.ID] = b.Clone()
	r.mu.Unlock()

	if r.cache != nil {
		if data, err := json.Marshal(b); err == nil {
			_ = r.cache.Set(ctx, cacheKey(b.ID), string(data), cacheTTL)
		}
	}
	return nil
}

// Get retrieves a block by id, trying the Redis cache first, then
// Postgres, collapsing concurrent cache-miss loads for the same id
// via singleflight the way a stampede-prone read-through cache should.
func (r *Registry) Get(ctx context.Context, id string) (*models.BlockDefinition, error) {
	if r.cache != nil {
		if data, err := r.cache.Get(ctx, cacheKey(id)); err == nil {
			var b models.BlockDefinition
			if jsonErr := json.Unmarshal([]byte(data), &b); jsonErr == nil {
				return &b, nil
			}
		}
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		rowModel := new(row)
		err := r.db.NewSelect().Model(rowModel).Where("id = ?", id).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("registry: get block %s: %w", id, err)
		}
		b, err := fromRow(rowModel)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			if data, err := json.Marshal(b); err == nil {
				_ = r.cache.Set(ctx, cacheKey(id), string(data), cacheTTL)
			}
		}
		r.mu.Lock()
		r.index[b.ID] = b.Clone()
		r.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.BlockDefinition), nil
}

// Delete removes a block from Postgres, the cache, and the search index.
func (r *Registry) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().Model((*row)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("registry: delete block %s: %w", id, err)
	}
	if r.cache != nil {
		_ = r.cache.Delete(ctx, cacheKey(id))
	}
	r.mu.Lock()
	delete(r.index, id)
	r.mu.Unlock()
	return nil
}

// List returns every block, loading the full table into the
// in-memory index (used at startup to warm Search).
func (r *Registry) List(ctx context.Context) ([]*models.BlockDefinition, error) {
	var rows []*row
	if err := r.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return nil, fmt.Errorf("registry: list blocks: %w", err)
	}
	out := make([]*models.BlockDefinition, 0, len(rows))
	r.mu.Lock()
	for _, rw := range rows {
		b, err := fromRow(rw)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		out = append(out, b)
		r.index[b.ID] = b.Clone()
	}
	r.mu.Unlock()
	return out, nil
}

// WarmIndex loads every block from Postgres into the in-memory search
// index without returning them, for use at server startup.
func (r *Registry) WarmIndex(ctx context.Context) error {
	_, err := r.List(ctx)
	return err
}

// IndexSize returns how many blocks are currently indexed in memory.
func (r *Registry) IndexSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

func cacheKey(id string) string {
	return "block:" + id
}
