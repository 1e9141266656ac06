// Package scenario defines the parameter records that drive one isolated run
// of a shared UI flow, and the ordered matrices they are declared in.
package scenario

import (
	"fmt"
	"strings"

	"github.com/kuitang/uimatrix/internal/errs"
)

// Field is one named scenario parameter.
type Field struct {
	Name  string
	Value any
}

// Scenario is an immutable ordered set of primitive parameters. Identity is
// structural: two scenarios with the same fields in the same order are equal.
type Scenario struct {
	fields []Field
}

// New builds a scenario, rejecting empty or duplicate names and
// non-primitive values.
func New(fields ...Field) (Scenario, error) {
	seen := make(map[string]struct{}, len(fields))
	copied := make([]Field, 0, len(fields))
	for i, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return Scenario{}, errs.New(errs.InvalidArgument, fmt.Sprintf("scenario field %d has an empty name", i))
		}
		if _, dup := seen[name]; dup {
			return Scenario{}, errs.New(errs.InvalidArgument, fmt.Sprintf("scenario field %q declared twice", name))
		}
		if !isPrimitive(f.Value) {
			return Scenario{}, errs.New(errs.InvalidArgument, fmt.Sprintf("scenario field %q has non-primitive value %T", name, f.Value))
		}
		seen[name] = struct{}{}
		copied = append(copied, Field{Name: name, Value: f.Value})
	}
	return Scenario{fields: copied}, nil
}

// MustNew is New for statically declared matrices.
func MustNew(fields ...Field) Scenario {
	sc, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return sc
}

// Of builds a single-field scenario, the most common matrix shape.
func Of(name string, value any) Scenario {
	return MustNew(Field{Name: name, Value: value})
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

// Len returns the number of fields.
func (s Scenario) Len() int { return len(s.fields) }

// Fields returns a copy of the ordered fields.
func (s Scenario) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Map returns the fields as a fresh map.
func (s Scenario) Map() map[string]any {
	out := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		out[f.Name] = f.Value
	}
	return out
}

// Get returns the value of a field.
func (s Scenario) Get(name string) (any, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// String returns the stringified value of a field, or "" when absent.
func (s Scenario) String(name string) string {
	v, ok := s.Get(name)
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Is reports whether a field is present and its stringified value equals
// the stringified want, so 4 and "4" compare equal.
func (s Scenario) Is(name string, want any) bool {
	v, ok := s.Get(name)
	if !ok {
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(want)
}

// Equal reports structural equality.
func (s Scenario) Equal(other Scenario) bool {
	if len(s.fields) != len(other.fields) {
		return false
	}
	for i, f := range s.fields {
		o := other.fields[i]
		if f.Name != o.Name || f.Value != o.Value {
			return false
		}
	}
	return true
}

// Label joins the field values with ", ". Empty strings render as "" so a
// "no permission" scenario still has a visible group name.
func (s Scenario) Label() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		if str, ok := f.Value.(string); ok && str == "" {
			parts[i] = `""`
			continue
		}
		parts[i] = fmt.Sprint(f.Value)
	}
	return strings.Join(parts, ", ")
}

// Matrix is an ordered list of scenarios, each driving one independent run.
type Matrix []Scenario

// Labels returns the group label of every scenario in declared order.
func (m Matrix) Labels() []string {
	out := make([]string, len(m))
	for i, sc := range m {
		out[i] = sc.Label()
	}
	return out
}

// Validate rejects matrices whose groups would share a label.
func (m Matrix) Validate() error {
	seen := make(map[string]int, len(m))
	for i, label := range m.Labels() {
		if prev, dup := seen[label]; dup {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("scenarios %d and %d share label %q", prev, i, label))
		}
		seen[label] = i
	}
	return nil
}
