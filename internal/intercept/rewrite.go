// Package intercept rewrites live JSON responses so the application under
// test renders the state a scenario needs, without a mock backend.
package intercept

import (
	"maps"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Outcome classifies what Rewrite did with a body.
type Outcome string

const (
	Rewritten     Outcome = "rewritten"
	ParseError    Outcome = "parse_error"
	ShapeMismatch Outcome = "shape_mismatch"
)

// DefaultMinFields is the smallest object the rewrite will touch. A target
// with a single field is taken to be an error envelope, not the record.
const DefaultMinFields = 2

// Rewrite merges fields into the JSON object found at path. The target must
// be an object with at least minFields fields; otherwise, or when body is not
// valid JSON, body is returned unchanged together with the reason. Bytes
// outside the rewritten fields are preserved.
func Rewrite(body []byte, path []string, fields map[string]any, minFields int) ([]byte, Outcome) {
	if minFields <= 0 {
		minFields = DefaultMinFields
	}
	if !gjson.ValidBytes(body) {
		return body, ParseError
	}

	target := gjson.ParseBytes(body)
	if len(path) > 0 {
		target = gjson.GetBytes(body, joinPath(path))
	}
	if !target.IsObject() {
		return body, ShapeMismatch
	}
	n := 0
	target.ForEach(func(_, _ gjson.Result) bool {
		n++
		return true
	})
	if n < minFields {
		return body, ShapeMismatch
	}

	out := slices.Clone(body)
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		next, err := sjson.SetBytes(out, joinPath(append(slices.Clip(path), key)), fields[key])
		if err != nil {
			return body, ShapeMismatch
		}
		out = next
	}
	return out, Rewritten
}

// Merge returns a copy of base with fields applied on top. Fields win on
// conflicts; keys only in base are kept.
func Merge(base, fields map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(fields))
	maps.Copy(out, base)
	maps.Copy(out, fields)
	return out
}

// joinPath escapes each component for gjson/sjson path syntax.
func joinPath(parts []string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = escapeComponent(p)
	}
	return strings.Join(escaped, ".")
}

func escapeComponent(comp string) string {
	var b strings.Builder
	for _, r := range comp {
		switch r {
		case '\\', '.', '*', '?', '|', '#', '@', '!', '=', '<', '>', '%', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
