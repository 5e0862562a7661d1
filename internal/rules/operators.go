// internal/rules/operators.go
package rules

import (
	"fmt"
	"strings"

	"github.com/solatis/docsync/internal/types"
)

/*
 * Filter operator comparison logic.
 *
 * Implements the 12 filter operators. String comparisons are case-insensitive;
 * both sides are lowered with strings.ToLower after text coercion.
 *
 * Operators:
 *   - content/notcontent: substring test
 *   - begin/end: prefix/suffix test
 *   - in/notin: membership in a ';'-delimited set
 *   - gt/lt/gteq/lteq: numeric ordering when both sides are numbers,
 *     string ordering otherwise
 *   - equal/different: equality
 *
 * Negated operators are defined as the exact complement of their positive
 * form so notin(v, s) == !in(v, s) for every input.
 */

// Operator names a filter comparison.
type Operator string

const (
	OpContent    Operator = "content"
	OpNotContent Operator = "notcontent"
	OpBegin      Operator = "begin"
	OpEnd        Operator = "end"
	OpIn         Operator = "in"
	OpNotIn      Operator = "notin"
	OpGt         Operator = "gt"
	OpLt         Operator = "lt"
	OpGteq       Operator = "gteq"
	OpLteq       Operator = "lteq"
	OpEqual      Operator = "equal"
	OpDifferent  Operator = "different"
)

var knownOperators = map[Operator]bool{
	OpContent: true, OpNotContent: true, OpBegin: true, OpEnd: true,
	OpIn: true, OpNotIn: true, OpGt: true, OpLt: true, OpGteq: true,
	OpLteq: true, OpEqual: true, OpDifferent: true,
}

// Operators lists every supported operator.
func Operators() []Operator {
	return []Operator{
		OpContent, OpNotContent, OpBegin, OpEnd, OpIn, OpNotIn,
		OpGt, OpLt, OpGteq, OpLteq, OpEqual, OpDifferent,
	}
}

// ParseOperator validates an operator name. Names are matched
// case-insensitively with surrounding whitespace removed.
func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.ToLower(strings.TrimSpace(s)))
	if !knownOperators[op] {
		return "", fmt.Errorf("%w: %q", types.ErrInvalidOperator, s)
	}
	return op, nil
}

// Evaluate applies op to a record value and a filter value.
// An unknown operator evaluates false and returns ErrInvalidOperator.
func Evaluate(value any, op Operator, filterValue string) (bool, error) {
	if !knownOperators[op] {
		return false, fmt.Errorf("%w: %q", types.ErrInvalidOperator, string(op))
	}
	return compare(op, value, filterValue), nil
}

// compare assumes op is known.
func compare(op Operator, value any, filterValue string) bool {
	v := strings.ToLower(CoerceText(value))
	f := strings.ToLower(filterValue)

	switch op {
	case OpContent:
		return strings.Contains(v, f)
	case OpNotContent:
		return !strings.Contains(v, f)
	case OpBegin:
		return strings.HasPrefix(v, f)
	case OpEnd:
		return strings.HasSuffix(v, f)
	case OpIn:
		return compareIn(v, f)
	case OpNotIn:
		return !compareIn(v, f)
	case OpGt:
		return compareOrdered(value, v, f) > 0
	case OpLt:
		return compareOrdered(value, v, f) < 0
	case OpGteq:
		return compareOrdered(value, v, f) >= 0
	case OpLteq:
		return compareOrdered(value, v, f) <= 0
	case OpEqual:
		return v == f
	case OpDifferent:
		return v != f
	default:
		return false
	}
}

// compareIn checks membership of v in the ';'-delimited set. Both sides are
// already lowered.
func compareIn(v, set string) bool {
	for _, elem := range strings.Split(set, ";") {
		if elem == v {
			return true
		}
	}
	return false
}

// compareOrdered performs a three-way comparison (-1/0/1). Numbers compare
// numerically when both sides coerce; everything else compares as lowered
// text.
func compareOrdered(raw any, v, f string) int {
	if a, err := CoerceNumeric(raw); err == nil {
		if b, err := CoerceNumeric(f); err == nil {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(v, f)
}
