package models

import "testing"

func threeNodePipeline() *Pipeline {
	return &Pipeline{
		ID: "p1",
		Nodes: []*PipelineNode{
			{ID: "n1", BlockID: "web_search", Inputs: map[string]any{"query": "AI news"}},
			{ID: "n2", BlockID: "summarize", Inputs: map[string]any{"text": "{{n1.results}}"}},
			{ID: "n3", BlockID: "notify_push", Inputs: map[string]any{"message": "{{n2.summary}}"}},
		},
		Edges: []*PipelineEdge{
			{From: "n1", To: "n2"},
			{From: "n2", To: "n3"},
		},
	}
}

func TestPipelineValidateHappyPath(t *testing.T) {
	p := threeNodePipeline()
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestPipelineValidateRejectsCycle(t *testing.T) {
	p := threeNodePipeline()
	p.Edges = append(p.Edges, &PipelineEdge{From: "n3", To: "n1"})
	if err := p.Validate(); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestPipelineValidateRejectsNonSequentialIDs(t *testing.T) {
	p := threeNodePipeline()
	p.Nodes[1].ID = "n5"
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for non-sequential node id")
	}
}

func TestPipelineValidateRejectsUnlinkedTemplateReference(t *testing.T) {
	p := threeNodePipeline()
	// n3 references n_unrelated but no edge exists for it.
	p.Nodes[2].Inputs["extra"] = "{{n1.other}} plus {{nope.x}}"
	if err := p.Validate(); err == nil {
		t.Fatal("expected error: template references a node with no edge")
	}
}

func TestPipelineValidateAllowsMemoryAndUserReferences(t *testing.T) {
	p := threeNodePipeline()
	p.MemoryKeys = []string{"prefs"}
	p.Nodes[0].Inputs["query"] = "{{memory.prefs}} for {{user.name}}"
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestPipelineTopologicalWaves(t *testing.T) {
	p := threeNodePipeline()
	waves, err := p.TopologicalWaves()
	if err != nil {
		t.Fatalf("TopologicalWaves() error = %v", err)
	}
	if len(waves) != 3 {
		t.Fatalf("len(waves) = %d, want 3", len(waves))
	}
	if waves[0][0] != "n1" || waves[1][0] != "n2" || waves[2][0] != "n3" {
		t.Fatalf("unexpected wave order: %v", waves)
	}
}

func TestPipelineTopologicalWavesParallelBranches(t *testing.T) {
	p := &Pipeline{
		Nodes: []*PipelineNode{
			{ID: "n1", BlockID: "a"},
			{ID: "n2", BlockID: "b"},
			{ID: "n3", BlockID: "c"},
		},
		Edges: []*PipelineEdge{
			{From: "n1", To: "n3"},
			{From: "n2", To: "n3"},
		},
	}
	waves, err := p.TopologicalWaves()
	if err != nil {
		t.Fatalf("TopologicalWaves() error = %v", err)
	}
	if len(waves) != 2 {
		t.Fatalf("len(waves) = %d, want 2", len(waves))
	}
	if len(waves[0]) != 2 {
		t.Fatalf("first wave should contain both independent roots, got %v", waves[0])
	}
}

func TestPipelineGetNode(t *testing.T) {
	p := threeNodePipeline()
	if _, err := p.GetNode("n2"); err != nil {
		t.Fatalf("GetNode(n2) error = %v", err)
	}
	if _, err := p.GetNode("n9"); err == nil {
		t.Fatal("expected ErrNodeNotFound for unknown id")
	}
}
