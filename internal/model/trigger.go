package model

import (
	"fmt"
	"sort"
	"strings"
)

// TriggerKind identifies the predicate variant of a trigger condition.
type TriggerKind string

const (
	// TriggerNumericThreshold compares a numeric profile feature against a threshold.
	TriggerNumericThreshold TriggerKind = "numeric_threshold"
	// TriggerCategoryMembership tests whether a categorical feature is in a value set.
	TriggerCategoryMembership TriggerKind = "category_membership"
	// TriggerCountThreshold compares an integer count feature against a threshold.
	TriggerCountThreshold TriggerKind = "count_threshold"
)

// CompareOp is the comparison operator for threshold triggers.
type CompareOp string

const (
	OpGTE CompareOp = "gte"
	OpLTE CompareOp = "lte"
	OpGT  CompareOp = "gt"
	OpLT  CompareOp = "lt"
)

// TriggerCondition is the predicate a pattern tests against profile features.
// It is a closed tagged union: Kind selects the variant, and only the fields
// belonging to that variant are meaningful.
type TriggerCondition struct {
	Kind      TriggerKind `json:"kind"`
	Field     string      `json:"field"`
	Op        CompareOp   `json:"op,omitempty"`
	Threshold float64     `json:"threshold,omitempty"`
	Values    []string    `json:"values,omitempty"`
	Weight    float64     `json:"weight"`
}

// Matches evaluates the trigger against a profile's derived features.
// Unknown fields never match.
func (t TriggerCondition) Matches(f ProfileFeatures) bool {
	switch t.Kind {
	case TriggerNumericThreshold:
		v, ok := f.NumericField(t.Field)
		if !ok {
			return false
		}
		return compare(v, t.Op, t.Threshold)
	case TriggerCategoryMembership:
		v, ok := f.CategoryField(t.Field)
		if !ok || v == "" {
			return false
		}
		for _, want := range t.Values {
			if strings.EqualFold(v, want) {
				return true
			}
		}
		return false
	case TriggerCountThreshold:
		n, ok := f.CountField(t.Field)
		if !ok {
			return false
		}
		return compare(float64(n), t.Op, t.Threshold)
	default:
		return false
	}
}

// Validate checks that the trigger is a well-formed variant.
func (t TriggerCondition) Validate() error {
	if t.Field == "" {
		return fmt.Errorf("trigger: field is required")
	}
	switch t.Kind {
	case TriggerNumericThreshold, TriggerCountThreshold:
		switch t.Op {
		case OpGTE, OpLTE, OpGT, OpLT:
		default:
			return fmt.Errorf("trigger: invalid op %q for kind %s", t.Op, t.Kind)
		}
	case TriggerCategoryMembership:
		if len(t.Values) == 0 {
			return fmt.Errorf("trigger: category membership requires values")
		}
	default:
		return fmt.Errorf("trigger: unknown kind %q", t.Kind)
	}
	return nil
}

// Key returns a stable structural identity for the trigger, used by the
// pattern store's dedup rule. Two triggers with the same Key are considered
// structurally identical regardless of weight.
func (t TriggerCondition) Key() string {
	switch t.Kind {
	case TriggerCategoryMembership:
		vals := make([]string, len(t.Values))
		for i, v := range t.Values {
			vals[i] = strings.ToLower(v)
		}
		sort.Strings(vals)
		return fmt.Sprintf("%s|%s|%s", t.Kind, t.Field, strings.Join(vals, ","))
	default:
		return fmt.Sprintf("%s|%s|%s|%.4f", t.Kind, t.Field, t.Op, t.Threshold)
	}
}

func compare(v float64, op CompareOp, threshold float64) bool {
	switch op {
	case OpGTE:
		return v >= threshold
	case OpLTE:
		return v <= threshold
	case OpGT:
		return v > threshold
	case OpLT:
		return v < threshold
	default:
		return false
	}
}
