package executor

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// conditionCache is an LRU cache of compiled expr-lang programs,
// adapted from pkg/engine/condition_cache.go's ConditionCache —
// same LRU-over-a-map shape, generalized from node-output-keyed
// workflow conditions to edge conditions over a PipelineEdge.
type conditionCache struct {
	capacity int
	entries  map[string]*list.Element
	order    *list.List
	mu       sync.RWMutex
}

type conditionCacheEntry struct {
	key     string
	program *vm.Program
}

func newConditionCache(capacity int) *conditionCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &conditionCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *conditionCache) get(condition string) (*vm.Program, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if el, ok := c.entries[condition]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*conditionCacheEntry).program, true
	}
	return nil, false
}

func (c *conditionCache) put(condition string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[condition]; ok {
		c.order.MoveToFront(el)
		el.Value.(*conditionCacheEntry).program = program
		return
	}
	el := c.order.PushFront(&conditionCacheEntry{key: condition, program: program})
	c.entries[condition] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*conditionCacheEntry).key)
		}
	}
}

// conditionEvaluator evaluates an edge's boolean Condition against the
// upstream node's output, via expr-lang (spec.md §4.F edge scheduling,
// generalized with OR semantics across multiple conditional inbound
// edges — see models.PipelineEdge.Condition).
type conditionEvaluator struct {
	cache *conditionCache
}

func newConditionEvaluator() *conditionEvaluator {
	return &conditionEvaluator{cache: newConditionCache(100)}
}

func (e *conditionEvaluator) evaluate(condition string, output map[string]any) (bool, error) {
	if condition == "" {
		return true, nil
	}

	env := map[string]any{"output": output}
	program, ok := e.cache.get(condition)
	if !ok {
		compiled, err := expr.Compile(condition, expr.Env(env), expr.AsBool())
		if err != nil {
			return false, fmt.Errorf("compile condition %q: %w", condition, err)
		}
		e.cache.put(condition, compiled)
		program = compiled
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", condition, err)
	}
	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned non-boolean %T", condition, result)
	}
	return boolResult, nil
}
