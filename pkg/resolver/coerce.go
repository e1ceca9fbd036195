package resolver

import (
	"fmt"
	"strconv"

	"github.com/kkkaaai/blockforge/pkg/models"
)

// Coerce converts value to match the declared schema type of a block
// input property, the way a dynamically-wired pipeline needs it: a
// resolved template often carries the producer's native type (a
// number, say) while the consumer's schema expects "string", or vice
// versa. Coerce only crosses JSON-compatible scalar boundaries
// (string/number/boolean); it never attempts to reshape objects or
// arrays, since those are structural mismatches the planner's wiring
// stage (not the resolver) is responsible for catching.
func Coerce(value any, schemaType string) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch schemaType {
	case "", "any":
		return value, nil
	case "string":
		return stringify(value), nil
	case "integer":
		return coerceInt(value)
	case "number":
		return coerceFloat(value)
	case "boolean":
		return coerceBool(value)
	case "array", "object":
		return value, nil
	default:
		return value, nil
	}
}

func coerceInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrCoercion, v)
		}
		return n, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return nil, fmt.Errorf("%w: %T is not coercible to integer", ErrCoercion, value)
	}
}

func coerceFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrCoercion, v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %T is not coercible to number", ErrCoercion, value)
	}
}

func coerceBool(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", ErrCoercion, v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %T is not coercible to boolean", ErrCoercion, value)
	}
}

// CoerceInputs resolves and coerces every field of node inputs against
// a block's declared input schema in one pass, returning values ready
// to pass to an executor.
func CoerceInputs(resolved map[string]any, schema models.Schema) (map[string]any, error) {
	out := make(map[string]any, len(resolved))
	for key, value := range resolved {
		prop, ok := schema.Properties[key]
		if !ok {
			out[key] = value
			continue
		}
		coerced, err := Coerce(value, prop.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		out[key] = coerced
	}
	return out, nil
}
