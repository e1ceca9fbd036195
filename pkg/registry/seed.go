package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kkkaaai/blockforge/pkg/models"
)

// seedFile mirrors the YAML shape of testdata/seed_blocks.yaml. It is
// a thin, yaml-tagged echo of models.BlockDefinition rather than the
// model itself so the fixture format can stay hand-writable even as
// the model's JSON tags evolve.
type seedFile struct {
	Blocks []seedBlock `yaml:"blocks"`
}

type seedBlock struct {
	ID             string              `yaml:"id"`
	Name           string              `yaml:"name"`
	Description    string              `yaml:"description"`
	Category       string              `yaml:"category"`
	ExecutionType  string              `yaml:"execution_type"`
	SourceCode     string              `yaml:"source_code"`
	PromptTemplate string              `yaml:"prompt_template"`
	UseWhen        string              `yaml:"use_when"`
	Tags           []string            `yaml:"tags"`
	InputSchema    seedSchema          `yaml:"input_schema"`
	OutputSchema   seedSchema          `yaml:"output_schema"`
}

type seedSchema struct {
	Properties map[string]seedProperty `yaml:"properties"`
	Required   []string                `yaml:"required"`
}

type seedProperty struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// LoadSeedBlocks parses a YAML fixture of bootstrap block definitions
// — the set the registry should already know about on a fresh
// install (web_search, summarize, notify_push, ...), grounded on the
// original implementation's scripts/seed_blocks.py.
func LoadSeedBlocks(path string) ([]*models.BlockDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read seed file: %w", err)
	}
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("registry: parse seed file: %w", err)
	}

	out := make([]*models.BlockDefinition, 0, len(sf.Blocks))
	for _, sb := range sf.Blocks {
		b := &models.BlockDefinition{
			ID:             sb.ID,
			Name:           sb.Name,
			Description:    sb.Description,
			Category:       models.BlockCategory(sb.Category),
			ExecutionType:  models.ExecutionType(sb.ExecutionType),
			SourceCode:     sb.SourceCode,
			PromptTemplate: sb.PromptTemplate,
			UseWhen:        sb.UseWhen,
			Tags:           sb.Tags,
			InputSchema:    toModelSchema(sb.InputSchema),
			OutputSchema:   toModelSchema(sb.OutputSchema),
			Metadata: models.BlockMetadata{
				CreatedBy: models.CreatedBySystem,
			},
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("registry: seed block %s: %w", sb.ID, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func toModelSchema(s seedSchema) models.Schema {
	props := make(map[string]models.SchemaProperty, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = models.SchemaProperty{Type: p.Type, Description: p.Description}
	}
	return models.Schema{Properties: props, Required: s.Required}
}
