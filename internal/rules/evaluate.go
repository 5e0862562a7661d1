// internal/rules/evaluate.go
package rules

import (
	"errors"

	"github.com/solatis/docsync/internal/types"
)

/*
 * Filter set evaluation.
 *
 * A record passes when every filter passes (AND semantics). Evaluation
 * short-circuits on the first failing filter and records it for the
 * document log.
 *
 * Evaluation flow per filter:
 *   1. Resolve target field (exact key, then dotted path)
 *   2. Missing field evaluates as empty text
 *   3. Compare with operator
 *
 * An unknown operator fails its filter and surfaces ErrInvalidOperator in
 * FilterResult.Err; the record is treated as filtered.
 */

// FilterResult is the outcome of evaluating a filter set.
type FilterResult struct {
	Passed bool
	Failed *types.Filter // first failing filter, nil when Passed
	Value  any           // record value compared by the failing filter
	Err    error         // set when the failing filter could not be evaluated
}

// EvaluateFilters evaluates compiled filters against record in order.
func EvaluateFilters(filters []CompiledFilter, record types.Record) FilterResult {
	for i := range filters {
		f := &filters[i]

		value, err := ResolveField(f.Source.Target, record)
		if err != nil && !errors.Is(err, types.ErrFieldNotFound) {
			return FilterResult{Failed: &f.Source, Err: err}
		}

		if f.Invalid != nil {
			return FilterResult{Failed: &f.Source, Value: value, Err: f.Invalid}
		}

		ok, err := Evaluate(value, f.Operator, f.Source.Value)
		if err != nil || !ok {
			return FilterResult{Failed: &f.Source, Value: value, Err: err}
		}
	}
	return FilterResult{Passed: true}
}
