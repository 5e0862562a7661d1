package ruleset

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/solatis/docsync/internal/formula"
	"github.com/solatis/docsync/internal/rules"
	"github.com/solatis/docsync/internal/types"
)

// validate checks a rule set before any document runs against it. Every
// problem is collected; the returned error lists them all.
func validate(connections []Connection, list []types.Rule, rs *RuleSet) error {
	var result *multierror.Error

	conns := make(map[string]bool, len(connections))
	for _, c := range connections {
		if c.ID == "" {
			result = multierror.Append(result, fmt.Errorf("connection with empty id"))
			continue
		}
		if conns[c.ID] {
			result = multierror.Append(result, fmt.Errorf("duplicate connection %s", c.ID))
		}
		conns[c.ID] = true
	}

	seen := make(map[string]bool, len(list))
	evaluator := formula.NewEvaluator()

	for _, r := range list {
		if r.ID == "" {
			result = multierror.Append(result, fmt.Errorf("rule with empty id"))
			continue
		}
		if seen[r.ID] {
			result = multierror.Append(result, fmt.Errorf("duplicate rule %s", r.ID))
		}
		seen[r.ID] = true

		switch r.Mode {
		case "", types.ModeCreate, types.ModeCreateUpdate, types.ModeSearch:
		default:
			result = multierror.Append(result, fmt.Errorf("rule %s: invalid mode %q", r.ID, r.Mode))
		}

		if len(conns) > 0 {
			for _, c := range []string{r.SourceConnectionID, r.TargetConnectionID} {
				if !conns[c] {
					result = multierror.Append(result, fmt.Errorf("rule %s: %w: %q", r.ID, types.ErrUnknownConnection, c))
				}
			}
		}

		if b := r.Bidirectional(); b != "" && rs.rules[b] == nil {
			result = multierror.Append(result, fmt.Errorf("rule %s: bidirectional %w: %s", r.ID, types.ErrUnknownRule, b))
		}

		for _, rel := range r.Relationships {
			if rs.rules[rel.RelatedRuleID] == nil {
				result = multierror.Append(result, fmt.Errorf("rule %s relationship %s: %w: %s",
					r.ID, rel.FieldNameSource, types.ErrUnknownRule, rel.RelatedRuleID))
			}
		}

		if _, err := rules.Compile(r.Filters); err != nil {
			result = multierror.Append(result, fmt.Errorf("rule %s: %w", r.ID, err))
		}

		for _, f := range r.Fields {
			if f.Target == "" {
				result = multierror.Append(result, fmt.Errorf("rule %s: field with empty target", r.ID))
			}
			if f.Formula == "" {
				continue
			}
			if _, err := evaluator.Compile(f.Formula); err != nil {
				result = multierror.Append(result, fmt.Errorf("rule %s field %s: %w", r.ID, f.Target, err))
			}
		}
	}

	if err := checkCycles(list); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

// checkCycles rejects parent -> child edges that loop back.
func checkCycles(list []types.Rule) error {
	edges := make(map[string][]string)
	for _, r := range list {
		for _, rel := range r.Relationships {
			if rel.Parent {
				edges[r.ID] = append(edges[r.ID], rel.RelatedRuleID)
			}
		}
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("%w: %v", types.ErrRuleCycle, append(path, id))
		case black:
			return nil
		}
		color[id] = grey
		for _, next := range edges[id] {
			if err := visit(next, append(path, id)); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, r := range list {
		if err := visit(r.ID, nil); err != nil {
			return err
		}
	}
	return nil
}
