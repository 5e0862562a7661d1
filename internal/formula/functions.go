package formula

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"github.com/solatis/docsync/internal/rules"
)

// functions returns the functions callable from formulas.
func functions() []expr.Option {
	return []expr.Option{
		expr.Function("lower", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("lower requires 1 argument")
			}
			return strings.ToLower(rules.CoerceText(params[0])), nil
		}),
		expr.Function("upper", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("upper requires 1 argument")
			}
			return strings.ToUpper(rules.CoerceText(params[0])), nil
		}),
		expr.Function("trim", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("trim requires 1 argument")
			}
			return strings.TrimSpace(rules.CoerceText(params[0])), nil
		}),
		expr.Function("replace", func(params ...any) (any, error) {
			if len(params) != 3 {
				return nil, fmt.Errorf("replace requires 3 arguments (str, old, new)")
			}
			return strings.ReplaceAll(rules.CoerceText(params[0]), rules.CoerceText(params[1]), rules.CoerceText(params[2])), nil
		}),
		// substr(str, start[, length]) works on runes; a negative start
		// counts from the end.
		expr.Function("substr", func(params ...any) (any, error) {
			if len(params) != 2 && len(params) != 3 {
				return nil, fmt.Errorf("substr requires 2 or 3 arguments")
			}
			r := []rune(rules.CoerceText(params[0]))
			start, err := toInt(params[1])
			if err != nil {
				return nil, err
			}
			if start < 0 {
				start += len(r)
			}
			start = clamp(start, 0, len(r))
			end := len(r)
			if len(params) == 3 {
				n, err := toInt(params[2])
				if err != nil {
					return nil, err
				}
				end = clamp(start+n, start, len(r))
			}
			return string(r[start:end]), nil
		}),
		expr.Function("concat", func(params ...any) (any, error) {
			var b strings.Builder
			for _, p := range params {
				b.WriteString(rules.CoerceText(p))
			}
			return b.String(), nil
		}),
		expr.Function("round", func(params ...any) (any, error) {
			if len(params) != 1 && len(params) != 2 {
				return nil, fmt.Errorf("round requires 1 or 2 arguments")
			}
			f, err := rules.CoerceNumeric(params[0])
			if err != nil {
				return nil, fmt.Errorf("round: %v is not a number", params[0])
			}
			precision := 0
			if len(params) == 2 {
				if precision, err = toInt(params[1]); err != nil {
					return nil, err
				}
			}
			pow := math.Pow(10, float64(precision))
			return math.Round(f*pow) / pow, nil
		}),
		expr.Function("coalesce", func(params ...any) (any, error) {
			for _, p := range params {
				if !rules.IsEmpty(p) {
					return p, nil
				}
			}
			return nil, nil
		}),
		expr.Function("toString", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("toString requires 1 argument")
			}
			return rules.CoerceText(params[0]), nil
		}),
		expr.Function("toFloat", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("toFloat requires 1 argument")
			}
			f, err := rules.CoerceNumeric(params[0])
			if err != nil {
				return nil, fmt.Errorf("toFloat: %v is not a number", params[0])
			}
			return f, nil
		}),
		// dateFormat(value, layoutIn, layoutOut) uses Go reference layouts.
		expr.Function("dateFormat", func(params ...any) (any, error) {
			if len(params) != 3 {
				return nil, fmt.Errorf("dateFormat requires 3 arguments (value, layoutIn, layoutOut)")
			}
			s := rules.CoerceText(params[0])
			if s == "" {
				return "", nil
			}
			t, err := time.Parse(rules.CoerceText(params[1]), s)
			if err != nil {
				return nil, err
			}
			return t.Format(rules.CoerceText(params[2])), nil
		}),
	}
}

func toInt(v any) (int, error) {
	f, err := rules.CoerceNumeric(v)
	if err != nil {
		return 0, fmt.Errorf("%v is not an integer", v)
	}
	return int(f), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
