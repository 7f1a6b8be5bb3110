package eligibility

import (
	"strconv"
	"strings"
	"time"

	"club-events-backend/internal/attr"
	"club-events-backend/internal/errs"
	"club-events-backend/internal/model"
	"club-events-backend/internal/parse"
)

// apply evaluates "value <op> operand", where operand is the raw
// comparison value stored on the condition.
func apply(op string, value attr.Value, operand string) (bool, error) {
	switch op {
	case model.OpEqual:
		return equal(value, operand), nil
	case model.OpNotEqual:
		return !equal(value, operand), nil
	case model.OpGreater, model.OpGreaterEqual, model.OpLess, model.OpLessEqual:
		cmp, err := order(value, operand)
		if err != nil {
			return false, err
		}
		switch op {
		case model.OpGreater:
			return cmp > 0, nil
		case model.OpGreaterEqual:
			return cmp >= 0, nil
		case model.OpLess:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case model.OpContains:
		return strings.Contains(value.Raw(), operand), nil
	case model.OpIn:
		for _, item := range parse.List(operand) {
			if equal(value, item) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, errs.Invalid("operator", "unsupported operator %q", op)
	}
}

// ValidateCondition reports a condition that could never be evaluated.
func ValidateCondition(cond model.EligibilityCondition) error {
	if cond.AttributeName == "" {
		return errs.Invalid("attribute_name", "is required")
	}
	if cond.EntityType != "" && cond.EntityType != model.EntityUser {
		return errs.Invalid("entity_type", "unsupported entity type %q", cond.EntityType)
	}
	return checkOperand(cond.Operator, cond.Value)
}

// checkOperand rejects conditions that can never be evaluated, whether or
// not the subject has the attribute.
func checkOperand(op, operand string) error {
	switch op {
	case model.OpEqual, model.OpNotEqual, model.OpContains, model.OpIn:
		return nil
	case model.OpGreater, model.OpGreaterEqual, model.OpLess, model.OpLessEqual:
		if _, ok := parse.Number(operand); ok {
			return nil
		}
		if _, err := parse.Date(operand, time.UTC); err == nil {
			return nil
		}
		return errs.Invalid("value", "operator %s needs a numeric value, got %q", op, operand)
	default:
		return errs.Invalid("operator", "unsupported operator %q", op)
	}
}

// equal compares numerically when both sides are numbers, as booleans or
// dates for those attribute types, and as case-sensitive strings otherwise.
func equal(value attr.Value, operand string) bool {
	if l, ok := numeric(value); ok {
		if r, ok := parse.Number(operand); ok {
			return l == r
		}
	}
	switch value.Type {
	case attr.TypeBool:
		if b, err := strconv.ParseBool(strings.TrimSpace(operand)); err == nil {
			return value.Bool == b
		}
	case attr.TypeDate:
		if d, err := parse.Date(operand, value.Time.Location()); err == nil {
			return value.Time.Equal(d)
		}
	}
	return value.Raw() == operand
}

// order returns -1, 0 or 1 comparing value to operand. Dates compare
// chronologically; everything else must be numeric on both sides.
func order(value attr.Value, operand string) (int, error) {
	if value.Type == attr.TypeDate {
		if d, err := parse.Date(operand, value.Time.Location()); err == nil {
			return compareTime(value.Time, d), nil
		}
	}

	l, ok := numeric(value)
	if !ok {
		return 0, errs.Invalid("value", "ordering comparison needs a numeric attribute, got %q", value.Raw())
	}
	r, ok := parse.Number(operand)
	if !ok {
		return 0, errs.Invalid("value", "ordering comparison needs a numeric value, got %q", operand)
	}
	switch {
	case l < r:
		return -1, nil
	case l > r:
		return 1, nil
	}
	return 0, nil
}

func numeric(v attr.Value) (float64, bool) {
	switch v.Type {
	case attr.TypeNumber:
		return v.Num, true
	case attr.TypeString, "":
		return parse.Number(v.Str)
	}
	return 0, false
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}
