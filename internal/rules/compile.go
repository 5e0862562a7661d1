// internal/rules/compile.go
package rules

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/solatis/docsync/internal/types"
)

/*
 * Filter compilation and validation.
 *
 * Compiles a rule's []types.Filter into []CompiledFilter with parsed
 * operators. Validation collects every problem in one pass with
 * go-multierror so an operator fixing a rule file sees all broken filters
 * at once.
 *
 * Filters keep their configured order. The first failing filter is the one
 * reported on the document, so reordering would change audit messages for
 * identical inputs.
 *
 * Unknown operators do not fail compilation of the whole set when Lenient is
 * used by the engine: the filter is kept with Invalid set and evaluates false
 * with ErrInvalidOperator at run time. Strict compilation is used by rule set
 * validation.
 */

// CompiledFilter is a filter ready for evaluation.
type CompiledFilter struct {
	Source   types.Filter
	Operator Operator
	Invalid  error // non-nil when the operator is unknown
}

// Compile validates every filter and returns them in configured order.
// All invalid operators are reported together.
func Compile(filters []types.Filter) ([]CompiledFilter, error) {
	var result *multierror.Error
	out := make([]CompiledFilter, 0, len(filters))

	for i, f := range filters {
		cf := compileOne(f)
		if cf.Invalid != nil {
			result = multierror.Append(result, fmt.Errorf("filter %d (%s): %w", i, f.Target, cf.Invalid))
		}
		if f.Target == "" {
			result = multierror.Append(result, fmt.Errorf("filter %d: empty target", i))
		}
		out = append(out, cf)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// CompileLenient compiles filters without rejecting unknown operators.
func CompileLenient(filters []types.Filter) []CompiledFilter {
	out := make([]CompiledFilter, 0, len(filters))
	for _, f := range filters {
		out = append(out, compileOne(f))
	}
	return out
}

func compileOne(f types.Filter) CompiledFilter {
	op, err := ParseOperator(f.Operator)
	return CompiledFilter{Source: f, Operator: op, Invalid: err}
}
