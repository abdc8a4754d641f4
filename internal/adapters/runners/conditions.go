package runners

import (
	"fmt"
	"strings"
)

// Condition is the parameter-driven predicate used by IF, SWITCH and FILTER
// nodes. There is deliberately no expression language: a condition is a
// field path, an operator, and a comparison value.
type Condition struct {
	Field    string
	Operator string
	Value    interface{}
}

const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGreaterThan = "gt"
	OpGreaterEq   = "gte"
	OpLessThan    = "lt"
	OpLessEq      = "lte"
	OpContains    = "contains"
	OpExists      = "exists"
	OpIsEmpty     = "is_empty"
)

func conditionFromParams(params map[string]interface{}) (*Condition, error) {
	raw, ok := mapParam(params, "condition")
	if !ok {
		return nil, fmt.Errorf("parameter %q is required", "condition")
	}
	operator, ok := stringParam(raw, "operator")
	if !ok {
		return nil, fmt.Errorf("condition requires an %q", "operator")
	}
	switch operator {
	case OpEquals, OpNotEquals, OpGreaterThan, OpGreaterEq, OpLessThan, OpLessEq, OpContains, OpExists, OpIsEmpty:
	default:
		return nil, fmt.Errorf("unsupported condition operator %q", operator)
	}
	field, _ := stringParam(raw, "field")
	return &Condition{
		Field:    field,
		Operator: operator,
		Value:    raw["value"],
	}, nil
}

// Evaluate applies the condition against one input value. A missing field
// is false for every operator except is_empty.
func (c *Condition) Evaluate(input interface{}) bool {
	actual, found := lookupField(input, c.Field)

	switch c.Operator {
	case OpExists:
		return found
	case OpIsEmpty:
		if !found || actual == nil {
			return true
		}
		switch v := actual.(type) {
		case string:
			return v == ""
		case []interface{}:
			return len(v) == 0
		case map[string]interface{}:
			return len(v) == 0
		default:
			return false
		}
	}

	if !found {
		return false
	}

	switch c.Operator {
	case OpEquals:
		return looseEqual(actual, c.Value)
	case OpNotEquals:
		return !looseEqual(actual, c.Value)
	case OpContains:
		haystack, ok := actual.(string)
		if ok {
			return strings.Contains(haystack, scalarString(c.Value))
		}
		if items, ok := actual.([]interface{}); ok {
			for _, item := range items {
				if looseEqual(item, c.Value) {
					return true
				}
			}
		}
		return false
	case OpGreaterThan, OpGreaterEq, OpLessThan, OpLessEq:
		left, lok := numeric(actual)
		right, rok := numeric(c.Value)
		if !lok || !rok {
			return false
		}
		switch c.Operator {
		case OpGreaterThan:
			return left > right
		case OpGreaterEq:
			return left >= right
		case OpLessThan:
			return left < right
		default:
			return left <= right
		}
	}
	return false
}

// looseEqual compares numbers across int/float representations, since JSON
// decoding yields float64 while authored parameters may carry ints.
func looseEqual(a, b interface{}) bool {
	if an, ok := numeric(a); ok {
		if bn, ok := numeric(b); ok {
			return an == bn
		}
	}
	return a == b
}
