// Package mcptag implements the tag-filter predicate language used to
// scope a downstream session to a subset of upstream servers (spec.md
// §3 TagFilter, §4.7).
package mcptag

import (
	"fmt"

	"github.com/1mcp-app/agent/internal/errs"
)

// Kind discriminates the four TagFilter variants spec.md §3 names.
type Kind string

const (
	KindNone     Kind = "none"
	KindSimpleOr Kind = "simple-or"
	KindAdvanced Kind = "advanced"
	KindPreset   Kind = "preset"
)

// Expr is the {and, or, not, term} boolean AST spec.md §3 names for the
// advanced() variant. Exactly one field is set per node.
type Expr struct {
	And  []Expr `json:"and,omitempty"`
	Or   []Expr `json:"or,omitempty"`
	Not  *Expr  `json:"not,omitempty"`
	Term string `json:"term,omitempty"`
}

// Filter is an immutable tag predicate. Evaluation against a server's
// tag set is pure (spec.md §3): the same Filter and tag set always
// admit the same answer.
type Filter struct {
	kind   Kind
	tags   []string
	expr   Expr
	preset string
}

// None admits every upstream regardless of tags.
func None() Filter { return Filter{kind: KindNone} }

// SimpleOr admits an upstream that carries at least one of tags.
func SimpleOr(tags []string) Filter { return Filter{kind: KindSimpleOr, tags: tags} }

// Advanced admits an upstream per the boolean expression over its tags.
func Advanced(expr Expr) Filter { return Filter{kind: KindAdvanced, expr: expr} }

// Preset names a filter to be resolved later from the preset store.
func Preset(name string) Filter { return Filter{kind: KindPreset, preset: name} }

// Kind reports which variant f is.
func (f Filter) Kind() Kind { return f.kind }

// PresetName returns the referenced preset name; valid only when
// Kind() == KindPreset.
func (f Filter) PresetName() string { return f.preset }

// Store resolves named presets to filters (spec.md §4.8 step 2).
type Store interface {
	Resolve(name string) (Filter, bool)
}

// Admits reports whether the filter admits a server carrying tags.
// When f is a preset reference, store must be non-nil; an unknown
// preset admits nothing, matching the "deny by default on
// misconfiguration" stance spec.md §7 takes for InvalidRequest inputs.
func (f Filter) Admits(tags map[string]bool, store Store) (bool, error) {
	switch f.kind {
	case KindNone, Kind(""):
		return true, nil
	case KindSimpleOr:
		for _, t := range f.tags {
			if tags[t] {
				return true, nil
			}
		}
		return len(f.tags) == 0, nil
	case KindAdvanced:
		return evalExpr(f.expr, tags), nil
	case KindPreset:
		if store == nil {
			return false, errs.New(errs.InvalidConfig, "mcptag.Admits", fmt.Errorf("preset %q: no preset store configured", f.preset))
		}
		resolved, ok := store.Resolve(f.preset)
		if !ok {
			return false, errs.New(errs.InvalidRequest, "mcptag.Admits", fmt.Errorf("unknown preset %q", f.preset))
		}
		return resolved.Admits(tags, store)
	default:
		return false, errs.New(errs.InternalErr, "mcptag.Admits", fmt.Errorf("unknown filter kind %q", f.kind))
	}
}

// evalExpr evaluates the {and,or,not,term} AST directly; Admits always
// uses it. The goja-backed Compile/AdmitsString in advanced.go evaluate
// the same tree as JS but are not called from Admits.
func evalExpr(e Expr, tags map[string]bool) bool {
	switch {
	case e.Term != "":
		return tags[e.Term]
	case e.Not != nil:
		return !evalExpr(*e.Not, tags)
	case len(e.And) > 0:
		for _, sub := range e.And {
			if !evalExpr(sub, tags) {
				return false
			}
		}
		return true
	case len(e.Or) > 0:
		for _, sub := range e.Or {
			if evalExpr(sub, tags) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
