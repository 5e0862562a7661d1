// internal/rules/operators_test.go
package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/docsync/internal/types"
)

func TestEvaluate_Operators(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		op     Operator
		filter string
		want   bool
	}{
		{"content match", "Hello World", OpContent, "lo wo", true},
		{"content miss", "Hello World", OpContent, "xyz", false},
		{"notcontent", "Hello World", OpNotContent, "xyz", true},
		{"begin", "Bob Smith", OpBegin, "bob", true},
		{"begin miss", "Bob Smith", OpBegin, "smith", false},
		{"end", "Bob Smith", OpEnd, "SMITH", true},
		{"in", "FR", OpIn, "de;fr;es", true},
		{"in miss", "IT", OpIn, "de;fr;es", false},
		{"notin", "IT", OpNotIn, "de;fr;es", true},
		{"gt numeric", "10", OpGt, "9", true},
		{"gt numeric native", float64(10), OpGt, "9.5", true},
		{"lt numeric", 3, OpLt, "20", true},
		{"gt text fallback", "b", OpGt, "a", true},
		{"gteq equal", "5", OpGteq, "5.0", true},
		{"lteq", "4", OpLteq, "5", true},
		{"lteq false", "6", OpLteq, "5", false},
		{"equal case-insensitive", "Active", OpEqual, "ACTIVE", true},
		{"equal nil vs empty", nil, OpEqual, "", true},
		{"different", "a", OpDifferent, "b", true},
		{"equal bool", true, OpEqual, "true", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.value, tt.op, tt.filter)
			if err != nil {
				t.Fatalf("Evaluate() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%v, %s, %q) = %v, want %v", tt.value, tt.op, tt.filter, got, tt.want)
			}
		})
	}
}

func TestEvaluate_UnknownOperator(t *testing.T) {
	got, err := Evaluate("x", Operator("like"), "x")
	if got {
		t.Errorf("Evaluate() = true, want false")
	}
	if !errors.Is(err, types.ErrInvalidOperator) {
		t.Errorf("Evaluate() error = %v, want ErrInvalidOperator", err)
	}
}

func TestParseOperator(t *testing.T) {
	for _, op := range Operators() {
		got, err := ParseOperator(" " + strings.ToUpper(string(op)) + " ")
		if err != nil {
			t.Errorf("ParseOperator(%q) error = %v", op, err)
		}
		if got != op {
			t.Errorf("ParseOperator(%q) = %v, want %v", op, got, op)
		}
	}
	if _, err := ParseOperator("between"); !errors.Is(err, types.ErrInvalidOperator) {
		t.Errorf("ParseOperator(between) error = %v, want ErrInvalidOperator", err)
	}
}

// Property-based test: string operators ignore case
func TestEvaluate_PropertyCaseInsensitive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("operator result is unchanged by case of either side", prop.ForAll(
		func(value, filter string, opIdx int) bool {
			op := Operators()[opIdx]
			base, _ := Evaluate(value, op, filter)
			upper, _ := Evaluate(strings.ToUpper(value), op, strings.ToLower(filter))
			lower, _ := Evaluate(strings.ToLower(value), op, strings.ToUpper(filter))
			return base == upper && base == lower
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, len(Operators())-1),
	))

	properties.TestingRun(t)
}

// Property-based test: in and notin are complements
func TestEvaluate_PropertyInNotInComplement(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("notin == !in", prop.ForAll(
		func(value string, set []string) bool {
			filter := strings.Join(set, ";")
			in, err1 := Evaluate(value, OpIn, filter)
			notin, err2 := Evaluate(value, OpNotIn, filter)
			return err1 == nil && err2 == nil && in != notin
		},
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("member of set is always in", prop.ForAll(
		func(set []string, pick int) bool {
			if len(set) == 0 {
				return true
			}
			value := strings.ToUpper(set[pick%len(set)])
			in, _ := Evaluate(value, OpIn, strings.Join(set, ";"))
			return in
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
