// internal/types/rules.go
package types

import "strings"

/*
 * Domain types for rule definitions.
 *
 * A Rule maps fields of one source module to one target module. The engine
 * does not own rules; they are supplied by internal/ruleset, usually loaded
 * from a YAML file.
 *
 * Key types:
 *   - Rule: mode, connections, modules, fields, relationships, filters, params
 *   - Field: source -> target mapping with optional formula
 *   - Relationship: link to another rule's documents (lookup or parent/child)
 *   - Filter: single predicate on a source field
 *
 * Dependencies: None
 */

// RuleMode restricts which document types a rule may produce.
type RuleMode string

const (
	ModeCreate       RuleMode = "C" // create only
	ModeCreateUpdate RuleMode = "0" // create and update
	ModeSearch       RuleMode = "S" // search only, never writes
)

// Synthetic field names.
const (
	// FieldElementID carries the target id of a record created by another rule.
	FieldElementID = "Myddleware_element_id"
	// FieldMyValue is a formula constant placeholder, never read from source.
	FieldMyValue = "my_value"
	// FieldDeletion marks a source record as deleted.
	FieldDeletion = "myddleware_deletion"
	// FieldID is the source record id key.
	FieldID = "id"
	// FieldDateModified is the source record modification date key.
	FieldDateModified = "date_modified"
)

// Rule param keys.
const (
	ParamBidirectional   = "bidirectional"
	ParamDuplicateFields = "duplicate_fields"
)

// Field maps one target field.
type Field struct {
	Source  string `yaml:"source"`  // may hold several names joined with ';' when a formula is set
	Target  string `yaml:"target"`
	Formula string `yaml:"formula,omitempty"`
}

// SourceNames returns the source field names the field reads.
func (f Field) SourceNames() []string {
	if f.Source == "" {
		return nil
	}
	return strings.Split(f.Source, ";")
}

// Relationship links a rule to the documents of a related rule.
type Relationship struct {
	ID              string `yaml:"id"`
	FieldNameSource string `yaml:"source"`
	FieldNameTarget string `yaml:"target"`
	RelatedRuleID   string `yaml:"related_rule"`
	// Parent marks the related rule as a child of this rule: its documents are
	// generated and sent as part of this rule's documents.
	Parent         bool `yaml:"parent,omitempty"`
	ErrorIfEmpty   bool `yaml:"error_if_empty,omitempty"`
	ErrorIfMissing bool `yaml:"error_if_missing,omitempty"`
}

// Filter is a single predicate evaluated against the source record.
type Filter struct {
	Target   string `yaml:"target"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
}

// Rule is a complete mapping definition.
type Rule struct {
	ID                 string            `yaml:"id"`
	Name               string            `yaml:"name"`
	Mode               RuleMode          `yaml:"mode"`
	SourceConnectionID string            `yaml:"source_connection"`
	TargetConnectionID string            `yaml:"target_connection"`
	SourceModule       string            `yaml:"source_module"`
	TargetModule       string            `yaml:"target_module"`
	Fields             []Field           `yaml:"fields"`
	Relationships      []Relationship    `yaml:"relationships,omitempty"`
	Filters            []Filter          `yaml:"filters,omitempty"`
	Params             map[string]string `yaml:"params,omitempty"`
}

// Param returns a rule param with leading whitespace removed.
func (r *Rule) Param(name string) string {
	if r.Params == nil {
		return ""
	}
	return strings.TrimLeft(r.Params[name], " \t")
}

// Bidirectional returns the id of the counterpart rule, if any.
func (r *Rule) Bidirectional() string {
	return r.Param(ParamBidirectional)
}

// DuplicateFields returns the target fields used to search for an existing
// target record before creating one.
func (r *Rule) DuplicateFields() []string {
	raw := r.Param(ParamDuplicateFields)
	if raw == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(raw, ";") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// SourceFields lists every source field the rule reads, in declaration
// order, without duplicates. my_value is skipped and Myddleware_element_id
// reads the record id.
func (r *Rule) SourceFields() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || name == FieldMyValue || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	for _, f := range r.Fields {
		for _, name := range f.SourceNames() {
			if name == FieldElementID {
				name = FieldID
			}
			add(name)
		}
	}
	for _, rel := range r.Relationships {
		if rel.FieldNameSource == FieldElementID {
			add(FieldID)
			continue
		}
		add(rel.FieldNameSource)
	}
	return out
}

// TargetFields lists the target fields the rule writes. For parent
// relationships the source field is listed, because that is the field the
// child rule reads back. Myddleware_element_id is never a target field.
func (r *Rule) TargetFields() []string {
	var out []string
	for _, f := range r.Fields {
		if f.Target != FieldElementID {
			out = append(out, f.Target)
		}
	}
	for _, rel := range r.Relationships {
		name := rel.FieldNameTarget
		if rel.Parent {
			name = rel.FieldNameSource
		}
		if name != FieldElementID {
			out = append(out, name)
		}
	}
	return out
}

// DisplayName returns the rule name, falling back to its id.
func (r *Rule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}
