// Package variables implements Prodigy's unified variable namespace: dotted
// JSON-path resolution, `${name}`/`${name:-default}` interpolation, legacy
// aliases, and a strict mode for validation/dry-run (spec.md §4.2).
package variables

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// maxRecursionDepth bounds recursive interpolation (spec.md §4.2 edge case).
const maxRecursionDepth = 8

// ResolutionSource classifies where a resolved value came from, for tracing.
type ResolutionSource string

const (
	SourceVariable ResolutionSource = "variable"
	SourceDefault  ResolutionSource = "default"
	SourceLegacy   ResolutionSource = "legacy_alias"
)

// VariableResolution traces a single `${...}` token's resolution for
// observability (captured_outputs diffing, dry-run reports).
type VariableResolution struct {
	Token  string
	Name   string
	Value  string
	Source ResolutionSource
}

// legacyAliases maps legacy template names to their standard equivalents
// (spec.md §3, §6).
var legacyAliases = map[string]string{
	"ARG":       "item",
	"FILE":      "item",
	"FILE_PATH": "item.path",
	"INDEX":     "item_index",
}

// Context is an immutable mapping from dotted names to JSON values. All
// transforms (With, Merge) return a new Context; the zero value is a valid
// empty context.
type Context struct {
	values map[string]any
}

// New builds a Context from a flat map of top-level values.
func New(values map[string]any) Context {
	if values == nil {
		values = map[string]any{}
	}
	return Context{values: values}
}

// Empty returns an empty Context.
func Empty() Context { return Context{values: map[string]any{}} }

// With returns a new Context with name bound to value, leaving the receiver
// unchanged.
func (c Context) With(name string, value any) Context {
	next := make(map[string]any, len(c.values)+1)
	for k, v := range c.values {
		next[k] = v
	}
	next[name] = value
	return Context{values: next}
}

// Merge returns a new Context with other's bindings layered on top of c's.
func (c Context) Merge(other Context) Context {
	next := make(map[string]any, len(c.values)+len(other.values))
	for k, v := range c.values {
		next[k] = v
	}
	for k, v := range other.values {
		next[k] = v
	}
	return Context{values: next}
}

// AsMap returns a shallow copy of the context's top-level bindings, suitable
// for embedding in a checkpoint's `variables` field.
func (c Context) AsMap() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Lookup resolves a dotted path (e.g. "item.location.file") against the
// context, applying legacy aliases first. Returns the value, whether it was
// found, and the resolution source.
func (c Context) Lookup(name string) (any, bool, ResolutionSource) {
	resolved := name
	source := SourceVariable
	if alias, ok := legacyAliases[name]; ok {
		resolved = alias
		source = SourceLegacy
	}
	// A binding whose own name is dotted (e.g. "item.path") takes precedence
	// over walking nested maps.
	if v, ok := c.values[resolved]; ok {
		return v, true, source
	}
	v, ok := lookupPath(c.values, resolved)
	return v, ok, source
}

func lookupPath(root map[string]any, dotted string) (any, bool) {
	parts := strings.Split(dotted, ".")
	var cur any = root
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// stringify renders an arbitrary JSON value as the string Lookup's caller
// would want interpolated into a template.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// Interpolate expands `${name}` and `${name:-default}` tokens in template
// against c, returning the expanded string and a trace of every resolution
// performed. Missing variables in non-strict mode expand to "" with a
// Source of SourceDefault (or the literal default text, if provided).
func (c Context) Interpolate(template string) (string, []VariableResolution) {
	return c.interpolate(template, false, 0)
}

// InterpolateStrict behaves like Interpolate but fails if any referenced
// name (with no inline default) cannot be resolved, returning the list of
// unresolved names as the error (invariant 7, spec.md §8).
func (c Context) InterpolateStrict(template string) (string, []VariableResolution, []string) {
	out, resolutions := c.interpolate(template, true, 0)

	var unresolved []string
	for _, tok := range findTokens(template) {
		name, _, hasDefault := splitDefault(tok)
		if hasDefault {
			continue
		}
		if _, ok, _ := c.Lookup(name); !ok {
			unresolved = append(unresolved, name)
		}
	}
	return out, resolutions, unresolved
}

// findTokens extracts the inner text of every ${...} token in s.
func findTokens(s string) []string {
	var tokens []string
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			break
		}
		start += i
		end := matchingBrace(s, start+2)
		if end < 0 {
			break
		}
		tokens = append(tokens, s[start+2:end])
		i = end + 1
	}
	return tokens
}

// matchingBrace finds the index of the '}' matching an opening "${" whose
// body starts at from, respecting nested braces.
func matchingBrace(s string, from int) int {
	depth := 1
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitDefault(tok string) (name, def string, hasDefault bool) {
	if idx := strings.Index(tok, ":-"); idx >= 0 {
		return tok[:idx], tok[idx+2:], true
	}
	return tok, "", false
}

func (c Context) interpolate(template string, strict bool, depth int) (string, []VariableResolution) {
	if depth >= maxRecursionDepth {
		return template, nil
	}

	var resolutions []VariableResolution
	var b strings.Builder
	i := 0
	changed := false
	for i < len(template) {
		start := strings.Index(template[i:], "${")
		if start < 0 {
			b.WriteString(template[i:])
			break
		}
		start += i
		b.WriteString(template[i:start])

		end := matchingBrace(template, start+2)
		if end < 0 {
			// Unterminated token: emit literally.
			b.WriteString(template[start:])
			break
		}
		tok := template[start+2 : end]
		name, def, hasDefault := splitDefault(tok)

		value, ok, source := c.Lookup(name)
		var resolved string
		switch {
		case ok:
			resolved = stringify(value)
		case hasDefault:
			resolved = def
			source = SourceDefault
		case strict:
			resolved = "${" + tok + "}"
		default:
			resolved = ""
			source = SourceDefault
		}

		resolutions = append(resolutions, VariableResolution{
			Token: "${" + tok + "}", Name: name, Value: resolved, Source: source,
		})
		b.WriteString(resolved)
		changed = true
		i = end + 1
	}

	out := b.String()
	if changed && depth < maxRecursionDepth-1 && strings.Contains(out, "${") {
		nested, nestedRes := c.interpolate(out, strict, depth+1)
		return nested, append(resolutions, nestedRes...)
	}
	return out, resolutions
}

// WithItem normalizes an input-source value into the `item`/`item.*` scope
// per spec.md §4.2: strings populate item and item.value; file paths
// populate item and item.path; JSON objects populate item as-is with
// selected fields flattened.
func (c Context) WithItem(value any, isPath bool) Context {
	switch v := value.(type) {
	case string:
		next := c.With("item", v)
		if isPath {
			return next.With("item.path", v)
		}
		return next.With("item.value", v)
	case map[string]any:
		next := c.With("item", v)
		for k, fv := range v {
			next = next.With("item."+k, fv)
		}
		return next
	default:
		return c.With("item", v)
	}
}

// WithLoopCounters binds item_index and item_total, which must always be
// present in iteration scope (spec.md §4.2).
func (c Context) WithLoopCounters(index, total int) Context {
	return c.With("item_index", index).With("item_total", total)
}
