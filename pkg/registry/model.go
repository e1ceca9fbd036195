package registry

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/kkkaaai/blockforge/pkg/models"
)

// row is the bun-mapped persistence shape of a models.BlockDefinition.
// Schema/Examples/Metadata/Embedding are stored as JSON columns, the
// same pattern the teacher uses for Workflow.Variables/Metadata
// (internal/infrastructure/storage/models/workflow_model.go).
type row struct {
	bun.BaseModel `bun:"table:blocks,alias:b"`

	ID             string    `bun:"id,pk"`
	Name           string    `bun:"name,notnull"`
	Description    string    `bun:"description"`
	Category       string    `bun:"category,notnull"`
	ExecutionType  string    `bun:"execution_type,notnull"`
	InputSchema    []byte    `bun:"input_schema,type:jsonb"`
	OutputSchema   []byte    `bun:"output_schema,type:jsonb"`
	SourceCode     string    `bun:"source_code"`
	PromptTemplate string    `bun:"prompt_template"`
	UseWhen        string    `bun:"use_when"`
	Tags           []byte    `bun:"tags,type:jsonb"`
	Examples       []byte    `bun:"examples,type:jsonb"`
	Embedding      []byte    `bun:"embedding,type:jsonb"`
	Metadata       []byte    `bun:"metadata,type:jsonb"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toRow(b *models.BlockDefinition) (*row, error) {
	inputSchema, err := json.Marshal(b.InputSchema)
	if err != nil {
		return nil, err
	}
	outputSchema, err := json.Marshal(b.OutputSchema)
	if err != nil {
		return nil, err
	}
	tags, err := json.Marshal(b.Tags)
	if err != nil {
		return nil, err
	}
	examples, err := json.Marshal(b.Examples)
	if err != nil {
		return nil, err
	}
	embedding, err := json.Marshal(b.Embedding)
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(b.Metadata)
	if err != nil {
		return nil, err
	}
	return &row{
		ID:             b.ID,
		Name:           b.Name,
		Description:    b.Description,
		Category:       string(b.Category),
		ExecutionType:  string(b.ExecutionType),
		InputSchema:    inputSchema,
		OutputSchema:   outputSchema,
		SourceCode:     b.SourceCode,
		PromptTemplate: b.PromptTemplate,
		UseWhen:        b.UseWhen,
		Tags:           tags,
		Examples:       examples,
		Embedding:      embedding,
		Metadata:       metadata,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}, nil
}

func fromRow(r *row) (*models.BlockDefinition, error) {
	b := &models.BlockDefinition{
		ID:             r.ID,
		Name:           r.Name,
		Description:    r.Description,
		Category:       models.BlockCategory(r.Category),
		ExecutionType:  models.ExecutionType(r.ExecutionType),
		SourceCode:     r.SourceCode,
		PromptTemplate: r.PromptTemplate,
		UseWhen:        r.UseWhen,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if err := json.Unmarshal(r.InputSchema, &b.InputSchema); err != nil && len(r.InputSchema) > 0 {
		return nil, err
	}
	if err := json.Unmarshal(r.OutputSchema, &b.OutputSchema); err != nil && len(r.OutputSchema) > 0 {
		return nil, err
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &b.Tags); err != nil {
			return nil, err
		}
	}
	if len(r.Examples) > 0 {
		if err := json.Unmarshal(r.Examples, &b.Examples); err != nil {
			return nil, err
		}
	}
	if len(r.Embedding) > 0 {
		if err := json.Unmarshal(r.Embedding, &b.Embedding); err != nil {
			return nil, err
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &b.Metadata); err != nil {
			return nil, err
		}
	}
	return b, nil
}
