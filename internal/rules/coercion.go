// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/solatis/docsync/internal/types"
)

/*
 * Type coercion for filter evaluation.
 *
 * Filter values are always text in the rule definition while record values
 * come from connectors with their native JSON types. Two coercions bridge
 * the gap:
 *   - CoerceText: lenient, every value has a text form (nil -> "")
 *   - CoerceNumeric: strict, only numbers and numeric strings
 *
 * Whitespace-only strings are not numbers. Booleans are not numbers.
 */

// CoerceText converts value to its text form. Nil becomes the empty string.
func CoerceText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case time.Time:
		return v.UTC().Format(time.DateTime)
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// CoerceNumeric converts value to float64.
// Returns ErrCoercionFailed for booleans, nil, and non-numeric strings.
func CoerceNumeric(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, types.ErrCoercionFailed
		}
		return f, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, types.ErrCoercionFailed
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, types.ErrCoercionFailed
		}
		return f, nil
	default:
		return 0, types.ErrCoercionFailed
	}
}

// IsEmpty reports whether a record value counts as empty: nil, or a string
// that is empty after trimming.
func IsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}
