// Package flow expresses a business flow as an ordered list of named steps.
// A Flow is a pure function of the scenario: branches are chosen once, when
// the steps are built, never inside a running step.
package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/kuitang/uimatrix/internal/errs"
	"github.com/kuitang/uimatrix/internal/scenario"
)

// Step is one named unit of interaction plus assertion.
type Step[H any] struct {
	Name string
	Do   func(ctx context.Context, h H) error
}

// Flow builds the steps for one scenario.
type Flow[H any] func(sc scenario.Scenario) []Step[H]

// New returns a step.
func New[H any](name string, do func(ctx context.Context, h H) error) Step[H] {
	return Step[H]{Name: name, Do: do}
}

// As returns the step under another name.
func (s Step[H]) As(name string) Step[H] {
	return Step[H]{Name: name, Do: s.Do}
}

// Steps concatenates step lists in order.
func Steps[H any](lists ...[]Step[H]) []Step[H] {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]Step[H], 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// When returns steps only if cond holds.
func When[H any](cond bool, steps ...Step[H]) []Step[H] {
	if !cond {
		return nil
	}
	return steps
}

// Branch selects then when the scenario field equals want, otherwise the
// alternative.
func Branch[H any](sc scenario.Scenario, field string, want any, then, otherwise []Step[H]) []Step[H] {
	if sc.Is(field, want) {
		return then
	}
	return otherwise
}

// Group prefixes step names so nested sub-flows stay readable in output.
func Group[H any](prefix string, steps ...Step[H]) []Step[H] {
	out := make([]Step[H], len(steps))
	for i, s := range steps {
		out[i] = Step[H]{Name: prefix + " / " + s.Name, Do: s.Do}
	}
	return out
}

// Number suffixes repeated step names with their occurrence, so clicking the
// same button twice yields "click #aceptar" and "click #aceptar (2)". The
// input is not modified.
func Number[H any](steps []Step[H]) []Step[H] {
	taken := make(map[string]bool, len(steps))
	for _, s := range steps {
		taken[strings.TrimSpace(s.Name)] = true
	}
	count := make(map[string]int, len(steps))
	out := make([]Step[H], len(steps))
	for i, s := range steps {
		out[i] = s
		name := strings.TrimSpace(s.Name)
		if name == "" {
			continue
		}
		count[name]++
		if count[name] == 1 {
			continue
		}
		n := count[name]
		renamed := fmt.Sprintf("%s (%d)", name, n)
		for taken[renamed] {
			n++
			renamed = fmt.Sprintf("%s (%d)", name, n)
		}
		count[name] = n
		taken[renamed] = true
		out[i].Name = renamed
	}
	return out
}

// Validate rejects unnamed, duplicate or empty steps.
func Validate[H any](steps []Step[H]) error {
	seen := make(map[string]int, len(steps))
	for i, s := range steps {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("step %d has no name", i))
		}
		if s.Do == nil {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("step %q has no body", name))
		}
		if prev, dup := seen[name]; dup {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("steps %d and %d are both named %q", prev, i, name))
		}
		seen[name] = i
	}
	return nil
}
