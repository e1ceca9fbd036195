package resolver

import (
	"testing"

	"github.com/kkkaaai/blockforge/pkg/models"
)

func TestCoerceStringToInteger(t *testing.T) {
	got, err := Coerce("42", "integer")
	if err != nil {
		t.Fatalf("Coerce() error = %v", err)
	}
	if got != 42 {
		t.Fatalf("got %v, want 42", got)
	}
}

func TestCoerceFloatToString(t *testing.T) {
	got, err := Coerce(float64(3), "string")
	if err != nil {
		t.Fatalf("Coerce() error = %v", err)
	}
	if got != "3" {
		t.Fatalf("got %q, want \"3\"", got)
	}
}

func TestCoerceInvalidIntegerErrors(t *testing.T) {
	if _, err := Coerce("not a number", "integer"); err == nil {
		t.Fatal("expected coercion error")
	}
}

func TestCoerceInputsAppliesPerFieldSchema(t *testing.T) {
	schema := models.Schema{
		Properties: map[string]models.SchemaProperty{
			"count": {Type: "integer"},
			"label": {Type: "string"},
		},
	}
	resolved := map[string]any{"count": "5", "label": float64(9), "extra": true}
	out, err := CoerceInputs(resolved, schema)
	if err != nil {
		t.Fatalf("CoerceInputs() error = %v", err)
	}
	if out["count"] != 5 {
		t.Fatalf("count = %v, want 5", out["count"])
	}
	if out["label"] != "9" {
		t.Fatalf("label = %v, want \"9\"", out["label"])
	}
	if out["extra"] != true {
		t.Fatalf("extra should pass through untouched, got %v", out["extra"])
	}
}
