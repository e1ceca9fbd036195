package models

import (
	"fmt"
	"strconv"
	"strings"
)

// PipelineNode is one node instance in a Pipeline JSON: a reference to
// a block definition plus the declarative, possibly-templated inputs
// to resolve before executing it (spec.md §3).
type PipelineNode struct {
	ID      string         `json:"id"`
	BlockID string         `json:"block_id"`
	Inputs  map[string]any `json:"inputs"`
}

// PipelineEdge is a directed dependency: To depends on From. Condition
// is an optional expr-lang boolean expression evaluated against From's
// output; when a node has multiple incoming conditional edges, OR
// semantics apply — the node executes if any satisfied edge feeds it
// (or if it has no conditional edges at all). An edge lacking
// Condition is unconditional.
type PipelineEdge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// Pipeline is the DAG produced by the planner's wiring stage and
// consumed by the executor (spec.md §3, "Pipeline JSON").
type Pipeline struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	UserPrompt string          `json:"user_prompt"`
	Nodes      []*PipelineNode `json:"nodes"`
	Edges      []*PipelineEdge `json:"edges"`
	MemoryKeys []string        `json:"memory_keys,omitempty"`
}

// GetNode returns a node by id.
func (p *Pipeline) GetNode(id string) (*PipelineNode, error) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, ErrNodeNotFound
}

// Predecessors returns the node ids with an edge into nodeID.
func (p *Pipeline) Predecessors(nodeID string) []string {
	var preds []string
	for _, e := range p.Edges {
		if e.To == nodeID {
			preds = append(preds, e.From)
		}
	}
	return preds
}

// HasEdge reports whether an edge from→to exists.
func (p *Pipeline) HasEdge(from, to string) bool {
	for _, e := range p.Edges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

// sequentialNodeIDPattern matches n1, n2, n3, ... (spec.md §3: "Node
// ids are sequential (n1, n2, …) unique within a pipeline.").
func sequentialNodeIDPattern(id string, index int) bool {
	return id == "n"+strconv.Itoa(index+1)
}

// Validate enforces the Pipeline JSON invariants of spec.md §3:
// sequential unique node ids, edges referencing existing nodes,
// acyclicity, and that every template reference names a prior node
// (via a real edge) or a declared memory key.
func (p *Pipeline) Validate() error {
	if len(p.Nodes) == 0 {
		return &ValidationError{Kind: SchemaKind, Field: "nodes", Message: "pipeline must have at least one node"}
	}

	seen := make(map[string]bool, len(p.Nodes))
	for i, n := range p.Nodes {
		if n.ID == "" {
			return &ValidationError{Kind: SchemaKind, Field: "nodes", Message: "node id is required"}
		}
		if seen[n.ID] {
			return &ValidationError{Kind: SchemaKind, Field: "nodes", Message: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		seen[n.ID] = true
		if !sequentialNodeIDPattern(n.ID, i) {
			return &ValidationError{Kind: SchemaKind, Field: "nodes", Message: fmt.Sprintf("node %d has id %q, expected n%d", i, n.ID, i+1)}
		}
		if n.BlockID == "" {
			return &ValidationError{Kind: SchemaKind, Field: "block_id", Message: "node " + n.ID + " is missing block_id"}
		}
	}

	for _, e := range p.Edges {
		if !seen[e.From] {
			return &ValidationError{Kind: SchemaKind, Field: "edges", Message: "edge references non-existent source node: " + e.From}
		}
		if !seen[e.To] {
			return &ValidationError{Kind: SchemaKind, Field: "edges", Message: "edge references non-existent target node: " + e.To}
		}
	}

	if err := p.detectCycle(); err != nil {
		return err
	}

	memoryKeys := make(map[string]bool, len(p.MemoryKeys))
	for _, k := range p.MemoryKeys {
		memoryKeys[k] = true
	}

	for _, n := range p.Nodes {
		preds := make(map[string]bool)
		for _, pid := range p.Predecessors(n.ID) {
			preds[pid] = true
		}
		if err := validateInputTemplates(n.ID, n.Inputs, preds, memoryKeys); err != nil {
			return err
		}
	}

	return nil
}

// templateSourceRefPattern extracts the "source" component (node id,
// "memory", or "user") out of a {{source.field}} / {source.field}
// template occurrence. It is intentionally permissive about the exact
// brace form; pkg/resolver owns full parsing.
func templateSourceRefPattern(source string) (ref string, ok bool) {
	source = strings.TrimSpace(source)
	idx := strings.IndexAny(source, ".[")
	if idx == -1 {
		return source, source != ""
	}
	return source[:idx], source[:idx] != ""
}

// validateInputTemplates walks a node's inputs recursively (containers
// included) checking that every template reference names a prior node
// with a real edge, or a declared memory key, or "user".
func validateInputTemplates(nodeID string, value any, preds map[string]bool, memoryKeys map[string]bool) error {
	switch v := value.(type) {
	case string:
		for _, ref := range extractTemplateRefs(v) {
			src, ok := templateSourceRefPattern(ref)
			if !ok {
				continue
			}
			if src == "memory" || src == "user" {
				continue
			}
			if !preds[src] {
				return &ValidationError{Kind: SchemaKind, Field: "inputs", Message: fmt.Sprintf("node %s references %q without a corresponding edge", nodeID, src)}
			}
		}
		return nil
	case map[string]any:
		for _, nested := range v {
			if err := validateInputTemplates(nodeID, nested, preds, memoryKeys); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, nested := range v {
			if err := validateInputTemplates(nodeID, nested, preds, memoryKeys); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// extractTemplateRefs returns the raw "source.field" (or "source[...]")
// body of every {{...}} and legacy {...} occurrence in s.
func extractTemplateRefs(s string) []string {
	var refs []string
	i := 0
	for i < len(s) {
		if strings.HasPrefix(s[i:], "{{") {
			end := strings.Index(s[i+2:], "}}")
			if end == -1 {
				break
			}
			refs = append(refs, s[i+2:i+2+end])
			i = i + 2 + end + 2
			continue
		}
		if s[i] == '{' {
			end := strings.IndexByte(s[i+1:], '}')
			if end == -1 {
				i++
				continue
			}
			body := s[i+1 : i+1+end]
			if !strings.Contains(body, "{") {
				refs = append(refs, body)
			}
			i = i + 1 + end + 1
			continue
		}
		i++
	}
	return refs
}

// detectCycle runs iterative DFS with a three-color visited map,
// grounded on the teacher's ValidateDAG in workflow_repository.go.
func (p *Pipeline) detectCycle() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.Nodes))
	adj := make(map[string][]string, len(p.Nodes))
	for _, e := range p.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	var visit func(string) error
	visit = func(id string) error {
		color[id] = gray
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				return ErrCyclicDependency
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, n := range p.Nodes {
		if color[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalWaves partitions nodes into dependency-ordered waves: all
// nodes in wave i have every predecessor in an earlier wave, and no
// earlier wave. Used by the executor's bounded-parallelism scheduler
// (spec.md §4.F).
func (p *Pipeline) TopologicalWaves() ([][]string, error) {
	if err := p.detectCycle(); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(p.Nodes))
	successors := make(map[string][]string, len(p.Nodes))
	for _, n := range p.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range p.Edges {
		indegree[e.To]++
		successors[e.From] = append(successors[e.From], e.To)
	}

	done := make(map[string]bool, len(p.Nodes))
	remaining := len(p.Nodes)
	var waves [][]string
	for remaining > 0 {
		var wave []string
		for _, n := range p.Nodes {
			if !done[n.ID] && indegree[n.ID] == 0 {
				wave = append(wave, n.ID)
			}
		}
		if len(wave) == 0 {
			return nil, ErrCyclicDependency
		}
		for _, id := range wave {
			done[id] = true
			remaining--
		}
		for _, id := range wave {
			for _, next := range successors[id] {
				indegree[next]--
			}
		}
		waves = append(waves, wave)
	}
	return waves, nil
}
