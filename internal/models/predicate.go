package models

import (
	"slices"
	"strings"
)

// Attributes is the flat field view a Predicate is evaluated against.
type Attributes map[string]string

// Operator names a comparison used by a Condition.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpPrefix   Operator = "prefix"
)

// Condition compares one attribute against a value (or values for "in").
type Condition struct {
	Field  string   `json:"field" yaml:"field" validate:"required"`
	Op     Operator `json:"op" yaml:"op" validate:"required,oneof=eq neq in contains prefix"`
	Value  string   `json:"value,omitempty" yaml:"value"`
	Values []string `json:"values,omitempty" yaml:"values"`
}

// Matches evaluates the condition against attrs. A missing field only satisfies neq.
func (c Condition) Matches(attrs Attributes) bool {
	actual, ok := attrs[c.Field]
	switch c.Op {
	case OpEq:
		return ok && strings.EqualFold(actual, c.Value)
	case OpNeq:
		return !ok || !strings.EqualFold(actual, c.Value)
	case OpIn:
		if !ok {
			return false
		}
		return slices.ContainsFunc(c.Values, func(v string) bool { return strings.EqualFold(v, actual) })
	case OpContains:
		return ok && strings.Contains(strings.ToLower(actual), strings.ToLower(c.Value))
	case OpPrefix:
		return ok && strings.HasPrefix(actual, c.Value)
	default:
		return false
	}
}

// Predicate is a conjunction of conditions. An empty predicate matches everything.
type Predicate []Condition

// Matches reports whether every condition holds.
func (p Predicate) Matches(attrs Attributes) bool {
	for _, cond := range p {
		if !cond.Matches(attrs) {
			return false
		}
	}
	return true
}
