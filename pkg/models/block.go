package models

import (
	"fmt"
	"time"
)

// BlockCategory is the semantic role a block plays in a pipeline.
type BlockCategory string

const (
	CategoryInput   BlockCategory = "input"
	CategoryProcess BlockCategory = "process"
	CategoryAction  BlockCategory = "action"
	CategoryMemory  BlockCategory = "memory"
	CategoryTrigger BlockCategory = "trigger"
	CategoryControl BlockCategory = "control"
)

// ExecutionType selects how the executor runs a block.
type ExecutionType string

const (
	ExecutionTypePython         ExecutionType = "python"
	ExecutionTypeTextGeneration ExecutionType = "text_generation"
	// executionTypeLLMLegacy is accepted on read and transparently
	// rewritten to ExecutionTypePython, per spec.md §3: "Legacy llm type
	// is interpreted as python whose body calls the language capability."
	executionTypeLLMLegacy ExecutionType = "llm"
)

// CreatedBy records who/what produced a block definition.
type CreatedBy string

const (
	CreatedBySystem      CreatedBy = "system"
	CreatedByPlanner     CreatedBy = "planner"
	CreatedBySynthesizer CreatedBy = "synthesizer"
	CreatedByUser        CreatedBy = "user"
)

// SchemaProperty is one property entry of an input_schema/output_schema
// map: a semantic type, optional default, and a human description.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// Schema is a JSON-Schema-shaped property map as described in spec.md
// §3: named properties plus a required subset.
type Schema struct {
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// RequiredSet returns Required as a lookup set.
func (s *Schema) RequiredSet() map[string]bool {
	set := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		set[name] = true
	}
	return set
}

// Validate enforces the invariant "input_schema.required ⊆
// input_schema.properties".
func (s *Schema) Validate() error {
	if s == nil {
		return nil
	}
	for _, name := range s.Required {
		if _, ok := s.Properties[name]; !ok {
			return &ValidationError{Kind: SchemaKind, Field: name, Message: "required property is not declared"}
		}
	}
	return nil
}

// Example is one synthesis/discovery test case: a concrete input/output
// pair. Examples double as synthesis golden tests (spec.md §3).
type Example struct {
	Inputs  map[string]any `json:"inputs"`
	Outputs map[string]any `json:"outputs"`
}

// BlockMetadata carries discovery and provenance fields outside the
// schema-validated surface.
type BlockMetadata struct {
	CreatedBy    CreatedBy `json:"created_by"`
	NeedsNetwork bool      `json:"needs_network,omitempty"`
}

// BlockDefinition is the fundamental unit of work: a stable id, typed
// input/output schemas, and either inline Python source or a prompt
// template, per spec.md §3.
type BlockDefinition struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Category    BlockCategory `json:"category"`

	ExecutionType ExecutionType `json:"execution_type"`

	InputSchema  Schema `json:"input_schema"`
	OutputSchema Schema `json:"output_schema"`

	SourceCode     string `json:"source_code,omitempty"`
	PromptTemplate string `json:"prompt_template,omitempty"`

	UseWhen  string   `json:"use_when,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Examples []Example `json:"examples,omitempty"`

	// Embedding is a fixed-dimension vector over the canonical search
	// text. Never computed over schemas (spec.md §4.A).
	Embedding []float32 `json:"embedding,omitempty"`

	Metadata BlockMetadata `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizedExecutionType rewrites the legacy "llm" execution_type to
// "python", satisfying the transparent-wrapper decision recorded in
// DESIGN.md for the spec's retrieval open question.
func (b *BlockDefinition) NormalizedExecutionType() ExecutionType {
	if b.ExecutionType == executionTypeLLMLegacy {
		return ExecutionTypePython
	}
	return b.ExecutionType
}

// IsLegacyLLM reports whether the stored execution_type is the legacy
// "llm" spelling, before normalization.
func (b *BlockDefinition) IsLegacyLLM() bool {
	return b.ExecutionType == executionTypeLLMLegacy
}

// SearchText builds the canonical summary text embedded and full-text
// indexed by the registry: description + "Use when " + use_when +
// "Related to: " + tags, per spec.md §4.A.save step 2.
func (b *BlockDefinition) SearchText() string {
	text := b.Description
	if b.UseWhen != "" {
		text += " Use when " + b.UseWhen
	}
	if len(b.Tags) > 0 {
		text += " Related to:"
		for _, tag := range b.Tags {
			text += " " + tag
		}
	}
	return text
}

// Validate enforces the BlockDefinition invariants from spec.md §3
// that don't require compiling source or calling an embedding
// capability (those are the registry's job at save time).
func (b *BlockDefinition) Validate() error {
	if b.ID == "" {
		return &ValidationError{Kind: SchemaKind, Field: "id", Message: "block id is required"}
	}
	if b.Name == "" {
		return &ValidationError{Kind: SchemaKind, Field: "name", Message: "block name is required"}
	}
	switch b.Category {
	case CategoryInput, CategoryProcess, CategoryAction, CategoryMemory, CategoryTrigger, CategoryControl:
	default:
		return &ValidationError{Kind: SchemaKind, Field: "category", Message: fmt.Sprintf("invalid category %q", b.Category)}
	}
	switch b.NormalizedExecutionType() {
	case ExecutionTypePython:
		if b.SourceCode == "" {
			return &ValidationError{Kind: SchemaKind, Field: "source_code", Message: "required for python blocks"}
		}
	case ExecutionTypeTextGeneration:
		if b.PromptTemplate == "" {
			return &ValidationError{Kind: SchemaKind, Field: "prompt_template", Message: "required for text_generation blocks"}
		}
		if err := b.validatePromptPlaceholders(); err != nil {
			return err
		}
	default:
		return &ValidationError{Kind: SchemaKind, Field: "execution_type", Message: fmt.Sprintf("invalid execution_type %q", b.ExecutionType)}
	}
	if err := b.InputSchema.Validate(); err != nil {
		return err
	}
	return b.OutputSchema.Validate()
}

// validatePromptPlaceholders enforces that every {name} placeholder in
// PromptTemplate names a declared input property (spec.md §3).
func (b *BlockDefinition) validatePromptPlaceholders() error {
	for _, name := range extractBracePlaceholders(b.PromptTemplate) {
		if _, ok := b.InputSchema.Properties[name]; !ok {
			return &ValidationError{Kind: SchemaKind, Field: "prompt_template", Message: fmt.Sprintf("placeholder %q is not an input property", name)}
		}
	}
	return nil
}

// extractBracePlaceholders finds every {identifier} substring.
func extractBracePlaceholders(s string) []string {
	var out []string
	i := 0
	for i < len(s) {
		if s[i] == '{' {
			j := i + 1
			for j < len(s) && s[j] != '}' && s[j] != '{' {
				j++
			}
			if j < len(s) && s[j] == '}' && j > i+1 {
				out = append(out, s[i+1:j])
				i = j + 1
				continue
			}
		}
		i++
	}
	return out
}

// Clone returns a deep-enough copy for safe mutation by callers (the
// registry mutates a clone when normalizing before persistence).
func (b *BlockDefinition) Clone() *BlockDefinition {
	clone := *b
	clone.Tags = append([]string(nil), b.Tags...)
	clone.Examples = append([]Example(nil), b.Examples...)
	clone.Embedding = append([]float32(nil), b.Embedding...)
	props := make(map[string]SchemaProperty, len(b.InputSchema.Properties))
	for k, v := range b.InputSchema.Properties {
		props[k] = v
	}
	clone.InputSchema.Properties = props
	clone.InputSchema.Required = append([]string(nil), b.InputSchema.Required...)
	outProps := make(map[string]SchemaProperty, len(b.OutputSchema.Properties))
	for k, v := range b.OutputSchema.Properties {
		outProps[k] = v
	}
	clone.OutputSchema.Properties = outProps
	clone.OutputSchema.Required = append([]string(nil), b.OutputSchema.Required...)
	return &clone
}
