package synthesizer

import (
	"fmt"
	"math"
	"reflect"

	"github.com/kkkaaai/blockforge/pkg/models"
	"github.com/kkkaaai/blockforge/pkg/resolver"
)

const floatTolerance = 1e-9

// validateOutputs checks a sandbox run's output against the declared
// output schema and, when provided, the request's golden expected
// output (spec.md §4.C step 6: "type-appropriate equality — deep equal
// for structures, numerical tolerance for floats").
func validateOutputs(output map[string]any, schema models.Schema, expected map[string]any) error {
	for name := range schema.RequiredSet() {
		if _, ok := output[name]; !ok {
			return fmt.Errorf("output missing required field %q", name)
		}
	}
	for name, prop := range schema.Properties {
		value, ok := output[name]
		if !ok {
			continue
		}
		if _, err := resolver.Coerce(value, prop.Type); err != nil {
			return fmt.Errorf("output field %q: %w", name, err)
		}
	}

	if expected == nil {
		return nil
	}
	for name, want := range expected {
		got, ok := output[name]
		if !ok {
			return fmt.Errorf("expected output field %q missing from actual output", name)
		}
		if !valuesEqual(got, want) {
			return fmt.Errorf("output field %q = %v, want %v", name, got, want)
		}
	}
	return nil
}

func valuesEqual(got, want any) bool {
	gotFloat, gotIsFloat := asFloat(got)
	wantFloat, wantIsFloat := asFloat(want)
	if gotIsFloat && wantIsFloat {
		return math.Abs(gotFloat-wantFloat) <= floatTolerance
	}
	return reflect.DeepEqual(got, want)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
