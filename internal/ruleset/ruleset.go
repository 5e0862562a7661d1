// internal/ruleset/ruleset.go
package ruleset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/solatis/docsync/internal/types"
)

/*
 * Rule set loading and lookup.
 *
 * A rule set is the read-only configuration the engine runs against: the
 * connections it may read from and the rules mapping them. It is loaded once
 * per process from YAML and shared by every worker; nothing mutates it after
 * New returns.
 *
 * Parent/child queries:
 *   - Children(id): relationships of rule id flagged parent (id is the parent)
 *   - IsChild(id): some rule declares id as a child
 *   - IsParent(id): rule id declares at least one child
 *
 * ETag is a content hash of the canonical YAML encoding, used to stamp
 * reports so a rerun can be tied to the configuration that produced it.
 */

// Connection names a connector instance that rules read from and write to.
type Connection struct {
	ID     string            `yaml:"id"`
	Driver string            `yaml:"driver"` // memory, sqltable
	URL    string            `yaml:"url,omitempty"`
	Params map[string]string `yaml:"params,omitempty"`
}

// File is the YAML document layout.
type File struct {
	Connections []Connection `yaml:"connections"`
	Rules       []types.Rule `yaml:"rules"`
}

// RuleSet is a validated, immutable collection of rules.
type RuleSet struct {
	connections []Connection
	rules       map[string]*types.Rule
	order       []string
	children    map[string][]types.Relationship
	parents     map[string][]string // child rule id -> parent rule ids
	etag        string
}

// Load reads and validates a rule set file.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML rule set.
func Parse(data []byte) (*RuleSet, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return New(f.Connections, f.Rules...)
}

// New builds a rule set from already-decoded rules.
func New(connections []Connection, rules ...types.Rule) (*RuleSet, error) {
	rs := &RuleSet{
		connections: connections,
		rules:       make(map[string]*types.Rule, len(rules)),
		children:    make(map[string][]types.Relationship),
		parents:     make(map[string][]string),
	}

	for i := range rules {
		r := rules[i]
		if r.Mode == "" {
			r.Mode = types.ModeCreateUpdate
		}
		if _, dup := rs.rules[r.ID]; !dup {
			rs.order = append(rs.order, r.ID)
		}
		rs.rules[r.ID] = &r
	}

	if err := validate(connections, rules, rs); err != nil {
		return nil, err
	}

	for _, id := range rs.order {
		for _, rel := range rs.rules[id].Relationships {
			if rel.Parent {
				rs.children[id] = append(rs.children[id], rel)
				rs.parents[rel.RelatedRuleID] = append(rs.parents[rel.RelatedRuleID], id)
			}
		}
	}

	etag, err := computeETag(File{Connections: connections, Rules: rules})
	if err != nil {
		return nil, err
	}
	rs.etag = etag

	return rs, nil
}

// Get returns the rule with the given id.
func (rs *RuleSet) Get(id string) (*types.Rule, error) {
	r, ok := rs.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownRule, id)
	}
	return r, nil
}

// Rules returns every rule in file order.
func (rs *RuleSet) Rules() []*types.Rule {
	out := make([]*types.Rule, 0, len(rs.order))
	for _, id := range rs.order {
		out = append(out, rs.rules[id])
	}
	return out
}

// Connections returns the configured connections.
func (rs *RuleSet) Connections() []Connection {
	return rs.connections
}

// Children returns the parent relationships declared by rule id.
func (rs *RuleSet) Children(id string) []types.Relationship {
	return rs.children[id]
}

// IsChild reports whether some rule declares id as its child.
func (rs *RuleSet) IsChild(id string) bool {
	return len(rs.parents[id]) > 0
}

// IsParent reports whether rule id declares at least one child rule.
func (rs *RuleSet) IsParent(id string) bool {
	return len(rs.children[id]) > 0
}

// ETag returns the content hash of the rule set.
func (rs *RuleSet) ETag() string {
	return rs.etag
}

// Direction derives how a relationship of owner searches the related rule.
// +1 searches related documents by source id, -1 by target id. The related
// rule must exist; connections that match neither side default to +1.
func (rs *RuleSet) Direction(owner *types.Rule, rel types.Relationship) (int, error) {
	related, ok := rs.rules[rel.RelatedRuleID]
	if !ok {
		return 0, fmt.Errorf("%w: rule %s relationship %s: %w",
			types.ErrDirectionUnknown, owner.ID, rel.FieldNameSource,
			fmt.Errorf("%w: %s", types.ErrUnknownRule, rel.RelatedRuleID))
	}
	switch owner.SourceConnectionID {
	case related.SourceConnectionID:
		return 1, nil
	case related.TargetConnectionID:
		return -1, nil
	default:
		return 1, nil
	}
}

// computeETag generates a content-addressable hash of the rule set.
func computeETag(f File) (string, error) {
	canon := f
	canon.Rules = append([]types.Rule(nil), f.Rules...)
	sort.SliceStable(canon.Rules, func(i, j int) bool { return canon.Rules[i].ID < canon.Rules[j].ID })

	data, err := yaml.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("encode rules: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
