package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// templatePattern matches both the canonical {{source.field}} form and
// the legacy {source.field} form. The double-brace alternative is
// tried first at every position so "{{n1.x}}" is never split into a
// legacy match of "{n1.x}" plus stray braces.
var templatePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][\w\[\]]*(?:\.[a-zA-Z_][\w\[\]]*)*)\s*\}\}|\{\s*([a-zA-Z_][\w\[\]]*(?:\.[a-zA-Z_][\w\[\]]*)*)\s*\}`)

// Engine resolves template references against a Context.
type Engine struct {
	ctx *Context
}

// New returns an Engine bound to ctx.
func New(ctx *Context) *Engine {
	return &Engine{ctx: ctx}
}

// Resolve walks data (a node's Inputs map, typically) and resolves
// every template reference it contains. Maps and slices are resolved
// recursively; all other types pass through unchanged.
func (e *Engine) Resolve(data any) (any, error) {
	switch v := data.(type) {
	case string:
		return e.ResolveString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			resolved, err := e.Resolve(val)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			resolved, err := e.Resolve(val)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return data, nil
	}
}

// ResolveString resolves template references inside s.
//
// When s is, in its entirety, a single template reference (no
// surrounding text), the reference's native resolved type is
// returned as-is — an object stays a map[string]any, a number stays a
// float64 — so a downstream block receiving {{n1.items}} gets the
// actual slice rather than its JSON text. This is a deliberate
// deviation from the teacher template engine's always-stringify
// valueToString (see SPEC_FULL.md §4.E): spec.md requires whole-value
// references to preserve type so blocks can consume structured
// upstream output.
//
// When a reference is embedded inside other text ("Report for
// {{user.name}}"), the resolved value is stringified and spliced in,
// exactly like the teacher's engine.
func (e *Engine) ResolveString(s string) (any, error) {
	matches := templatePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		ref := submatch(s, matches[0])
		return e.resolveRef(ref)
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(s[last:m[0]])
		ref := submatch(s, m)
		value, err := e.resolveRef(ref)
		if err != nil {
			if !isMissingReference(err) {
				return nil, err
			}
			value = ""
		}
		sb.WriteString(stringify(value))
		last = m[1]
	}
	sb.WriteString(s[last:])
	return sb.String(), nil
}

// isMissingReference reports whether err is the kind of resolution
// failure spec.md §4.E treats as "missing" inside text-plus-template
// strings (unknown source, absent field, out-of-range index) — as
// opposed to a caller-cancelled context or other non-reference error,
// which still propagates. Only the whole-value, entire-string template
// case (handled above in ResolveString) treats these as hard errors.
func isMissingReference(err error) bool {
	return errors.Is(err, ErrUnknownSource) || errors.Is(err, ErrFieldNotFound)
}

// submatch returns whichever of the two capture groups (canonical or
// legacy) matched.
func submatch(s string, m []int) string {
	if m[2] != -1 {
		return s[m[2]:m[3]]
	}
	return s[m[4]:m[5]]
}

func (e *Engine) resolveRef(ref string) (any, error) {
	parts := splitPath(ref)
	if len(parts) == 0 {
		return nil, &ResolutionError{Template: ref, Err: ErrUnknownSource}
	}

	source := parts[0]
	rest := parts[1:]

	var root any
	var ok bool
	switch source {
	case "memory":
		root, ok = any(e.ctx.Memory), e.ctx.Memory != nil
	case "user":
		root, ok = any(e.ctx.User), e.ctx.User != nil
	case "trigger":
		root, ok = any(e.ctx.Trigger), e.ctx.Trigger != nil
	default:
		root, ok = e.ctx.NodeResults[source]
	}
	if !ok {
		return nil, &ResolutionError{Template: ref, Err: ErrUnknownSource}
	}

	current := root
	for _, part := range rest {
		name, indices := splitIndices(part)
		if name != "" {
			next, found := field(current, name)
			if !found {
				return nil, &ResolutionError{Template: ref, Err: fmt.Errorf("%w: %q", ErrFieldNotFound, name)}
			}
			current = next
		}
		for _, idx := range indices {
			next, err := index(current, idx)
			if err != nil {
				return nil, &ResolutionError{Template: ref, Err: err}
			}
			current = next
		}
	}
	return current, nil
}

func field(value any, name string) (any, bool) {
	if value == nil {
		return nil, false
	}
	if m, ok := value.(map[string]any); ok {
		v, ok := m[name]
		return v, ok
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct {
		f := v.FieldByName(name)
		if f.IsValid() {
			return f.Interface(), true
		}
	}
	if data, err := json.Marshal(value); err == nil {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err == nil {
			v, ok := m[name]
			return v, ok
		}
	}
	return nil, false
}

func index(value any, idx int) (any, error) {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		if idx < 0 || idx >= v.Len() {
			return nil, fmt.Errorf("%w: index %d, length %d", ErrFieldNotFound, idx, v.Len())
		}
		return v.Index(idx).Interface(), nil
	}
	if data, err := json.Marshal(value); err == nil {
		var arr []any
		if err := json.Unmarshal(data, &arr); err == nil {
			if idx < 0 || idx >= len(arr) {
				return nil, fmt.Errorf("%w: index %d, length %d", ErrFieldNotFound, idx, len(arr))
			}
			return arr[idx], nil
		}
	}
	return nil, fmt.Errorf("%w: value is not indexable", ErrFieldNotFound)
}

// splitPath splits "n1.items[0].name" into ["n1", "items[0]", "name"].
func splitPath(path string) []string {
	var parts []string
	var cur strings.Builder
	depth := 0
	for _, ch := range path {
		switch ch {
		case '.':
			if depth == 0 {
				if cur.Len() > 0 {
					parts = append(parts, cur.String())
					cur.Reset()
				}
				continue
			}
		case '[':
			depth++
		case ']':
			depth--
		}
		cur.WriteRune(ch)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// splitIndices splits "items[0][1]" into ("items", [0, 1]), or
// "[0]" into ("", [0]).
func splitIndices(part string) (string, []int) {
	bracket := strings.IndexByte(part, '[')
	name := part
	rest := ""
	if bracket >= 0 {
		name = part[:bracket]
		rest = part[bracket:]
	}
	var indices []int
	for len(rest) > 0 {
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			break
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest[1:close]))
		if err == nil {
			indices = append(indices, n)
		}
		rest = rest[close+1:]
	}
	return name, indices
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

// HasTemplate reports whether s contains any template reference.
func HasTemplate(s string) bool {
	return templatePattern.MatchString(s)
}

// ExtractRefs returns every template reference found in s, in
// "source.path" form, without the surrounding braces.
func ExtractRefs(s string) []string {
	matches := templatePattern.FindAllStringSubmatchIndex(s, -1)
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, submatch(s, m))
	}
	return refs
}
