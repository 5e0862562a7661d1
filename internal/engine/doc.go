package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/solatis/docsync/internal/rules"
	"github.com/solatis/docsync/internal/types"
)

// Doc is the per-document working state of one pipeline run. A fresh Doc is
// built for every run and never shared between goroutines.
type Doc struct {
	types.Document

	rule   *types.Rule
	source types.Record
	target types.Record // computed by the transform stage, nil until then
	depth  int          // cascade depth, 0 for documents not generated by a parent

	messages []string
	severity types.Severity
	refDocID string
	lastErr  error
}

func newDoc(doc types.Document, rule *types.Rule, source types.Record, depth int) *Doc {
	return &Doc{
		Document: doc,
		rule:     rule,
		source:   source,
		depth:    depth,
		severity: types.SeveritySuccess,
	}
}

func (d *Doc) addf(format string, args ...any) {
	d.messages = append(d.messages, fmt.Sprintf(format, args...))
}

// warnf buffers a message and raises the severity of the next log row to
// Warning unless it is already Error.
func (d *Doc) warnf(format string, args ...any) {
	d.addf(format, args...)
	if d.severity != types.SeverityError {
		d.severity = types.SeverityWarning
	}
}

// fail buffers err and marks the next log row as an error.
func (d *Doc) fail(err error) {
	d.messages = append(d.messages, err.Error())
	d.severity = types.SeverityError
	d.lastErr = err
}

// takeMessage returns the buffered messages and resets the buffer.
func (d *Doc) takeMessage() (string, types.Severity, string) {
	msg, sev, ref := strings.Join(d.messages, " "), d.severity, d.refDocID
	d.messages = nil
	d.severity = types.SeveritySuccess
	d.refDocID = ""
	return msg, sev, ref
}

// sourceValue reads a source field; Myddleware_element_id reads the id.
func (d *Doc) sourceValue(name string) (any, bool) {
	if name == types.FieldElementID {
		name = types.FieldID
	}
	v, ok := d.source[name]
	return v, ok
}

// Result is the outcome of one public engine call. Callers inspect the
// returned status; the audit detail is in the document's log rows.
type Result struct {
	DocumentID   string
	RuleID       string
	SourceID     string
	Status       types.Status
	GlobalStatus types.GlobalStatus
	Type         types.DocType
	TargetID     string
	Attempt      int

	// OK is false when the document ended in an Error-class status or the
	// call could not run at all.
	OK  bool
	Err error
}

func (d *Doc) result() Result {
	r := Result{
		DocumentID:   d.ID,
		RuleID:       d.RuleID,
		SourceID:     d.SourceID,
		Status:       d.Status,
		GlobalStatus: d.GlobalStatus,
		Type:         d.Type,
		TargetID:     d.TargetID,
		Attempt:      d.Attempt,
		Err:          d.lastErr,
	}
	r.OK = r.Err == nil && r.GlobalStatus != types.GlobalError
	return r
}

func failed(err error) Result {
	return Result{Err: err}
}

// readFields lists the fields read from a rule's source module: mapped and
// relationship fields plus the top-level keys filters look at.
func readFields(rule *types.Rule) []string {
	fields := rule.SourceFields()
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		seen[f] = true
	}
	for _, f := range rule.Filters {
		root := f.Target
		if path, err := rules.ParsePath(f.Target); err == nil && len(path) > 0 && !path[0].IsIndex {
			root = path[0].Key
		}
		if root != "" && !seen[root] {
			seen[root] = true
			fields = append(fields, root)
		}
	}
	return fields
}

// sourceSnapshot keeps the fields the rule reads. Fields absent from record
// stay absent so the transformer can tell missing from null, except on a
// deletion: the source only sends the id then, so every mapped field is
// stored as null.
func sourceSnapshot(rule *types.Rule, record types.Record) types.Record {
	out := make(types.Record)
	for _, f := range readFields(rule) {
		if v, ok := record[f]; ok {
			out[f] = v
		}
	}
	if deletionFlagged(record) {
		for _, f := range rule.SourceFields() {
			if _, ok := out[f]; !ok {
				out[f] = nil
			}
		}
	}
	// Filters may target dotted keys stored flat.
	for _, f := range rule.Filters {
		if v, ok := record[f.Target]; ok {
			out[f.Target] = v
		}
	}
	for _, k := range []string{types.FieldID, types.FieldDateModified, types.FieldDeletion} {
		if v, ok := record[k]; ok {
			out[k] = v
		}
	}
	return out
}

// deletionFlagged reports whether a source record asks for a deletion.
func deletionFlagged(record types.Record) bool {
	v, ok := record[types.FieldDeletion]
	if !ok || rules.IsEmpty(v) {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(rules.CoerceText(v))) {
	case "0", "false", "no":
		return false
	}
	return true
}

var dateLayouts = []string{time.RFC3339Nano, time.DateTime, time.DateOnly}

func parseDate(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	s := strings.TrimSpace(rules.CoerceText(v))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
