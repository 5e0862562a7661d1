// Package formula evaluates field formulas of a rule.
//
// A formula is an expr-lang expression where source fields are referenced
// as {field_name}:
//
//	upper({lastname}) + ", " + {firstname}
//	round(toFloat({amount}) * 1.2, 2)
//
// References are rewritten to generated identifiers before compilation so
// field names may contain characters expr does not accept in identifiers.
// Expressions run in expr's sandboxed VM: only the registered functions and
// expr builtins are callable.
package formula

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/solatis/docsync/internal/types"
)

// refPattern matches a {field} reference. Map literals such as {a: 1} do not
// match because ':' is excluded.
var refPattern = regexp.MustCompile(`\{([A-Za-z0-9_.\- ]+)\}`)

// Program is a compiled formula.
type Program struct {
	Text   string
	Fields []string // referenced source fields, my_value excluded

	idents  map[string]string // field -> identifier
	program *vm.Program
}

// Evaluator compiles and caches formulas.
type Evaluator struct {
	cache   map[string]*Program
	cacheMu sync.RWMutex

	options []expr.Option
}

// NewEvaluator creates an evaluator with the formula function set.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache:   make(map[string]*Program),
		options: functions(),
	}
}

// Fields lists the source fields a formula references, in order of first
// appearance, without my_value.
func Fields(formula string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range refPattern.FindAllStringSubmatch(formula, -1) {
		name := strings.TrimSpace(m[1])
		if name == types.FieldMyValue || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Compile normalizes and compiles a formula, returning a cached program when
// the same text was compiled before.
func (e *Evaluator) Compile(formula string) (*Program, error) {
	e.cacheMu.RLock()
	p, ok := e.cache[formula]
	e.cacheMu.RUnlock()
	if ok {
		return p, nil
	}

	p = &Program{Text: formula, idents: make(map[string]string)}
	n := 0
	source := refPattern.ReplaceAllStringFunc(formula, func(tok string) string {
		name := strings.TrimSpace(tok[1 : len(tok)-1])
		id, ok := p.idents[name]
		if !ok {
			id = fmt.Sprintf("__f%d", n)
			n++
			p.idents[name] = id
			if name != types.FieldMyValue {
				p.Fields = append(p.Fields, name)
			}
		}
		return id
	})

	program, err := expr.Compile(source, e.options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrFormula, err)
	}
	p.program = program

	e.cacheMu.Lock()
	e.cache[formula] = p
	e.cacheMu.Unlock()

	return p, nil
}

// Run binds the referenced fields from record and executes the program.
// A referenced field absent from record is an error; a null value is bound
// as the empty string.
func (p *Program) Run(record types.Record) (any, error) {
	env := make(map[string]any, len(p.idents))
	for name, id := range p.idents {
		if name == types.FieldMyValue {
			env[id] = nil
			continue
		}
		v, ok := record[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", types.ErrFieldNotFound, name)
		}
		if v == nil {
			v = ""
		}
		env[id] = v
	}

	out, err := expr.Run(p.program, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrFormula, err)
	}
	return out, nil
}

// Eval compiles (or reuses) formula and runs it against record.
func (e *Evaluator) Eval(formula string, record types.Record) (any, error) {
	p, err := e.Compile(formula)
	if err != nil {
		return nil, err
	}
	return p.Run(record)
}
