// Package types provides domain models shared across docsync components.
//
// Zero-behaviour design: this package holds documents, data snapshots, audit
// log rows and rule definitions. Decisions about them live in internal/engine;
// persistence lives behind internal/store.
//
// ID utilities in ids.go import uuid and x/text; everything else uses the
// standard library only.
package types

import "time"

// Record is one flat record as exchanged with a connector or stored in a
// DocumentData snapshot. Values are JSON-compatible (string, float64, bool,
// nil, nested maps/slices).
type Record map[string]any

// Clone returns a shallow copy so callers can add keys without touching the
// original snapshot.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// DocType is the action a document performs against the target system.
// Stored as a single letter.
type DocType string

const (
	TypeUnset  DocType = ""
	TypeCreate DocType = "C"
	TypeUpdate DocType = "U"
	TypeDelete DocType = "D"
	TypeSearch DocType = "S"
)

// String returns the human-readable name used in log messages.
func (t DocType) String() string {
	switch t {
	case TypeCreate:
		return "Create"
	case TypeUpdate:
		return "Update"
	case TypeDelete:
		return "Delete"
	case TypeSearch:
		return "Search"
	default:
		return "Unset"
	}
}

// DataType identifies which snapshot a DocumentData row holds.
type DataType string

const (
	DataSource  DataType = "S"
	DataTarget  DataType = "T"
	DataHistory DataType = "H"
)

// Side selects which id column of a document a lookup matches on.
type Side int

const (
	SideSource Side = iota
	SideTarget
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideTarget {
		return SideSource
	}
	return SideTarget
}

// Document is one attempted transfer of one source record under one rule.
// Mutated only through the engine's transition operations; never hard-deleted.
type Document struct {
	ID                 string
	RuleID             string
	SourceID           string
	TargetID           string // empty until known
	ParentID           string // set for documents generated by a child cascade
	Type               DocType
	Status             Status
	GlobalStatus       GlobalStatus
	Attempt            int
	Deleted            bool
	SourceDateModified time.Time
	CreatedAt          time.Time
	ModifiedAt         time.Time
}

// SideID returns the id stored on the requested side.
func (d *Document) SideID(side Side) string {
	if side == SideTarget {
		return d.TargetID
	}
	return d.SourceID
}

// DocumentData is an immutable snapshot attached to exactly one document.
type DocumentData struct {
	ID         string
	DocumentID string
	Type       DataType
	Data       Record
	CreatedAt  time.Time
}

// DocumentRelationship records that a document resolved a link to another
// document through the given source field. Append-only.
type DocumentRelationship struct {
	ID                string
	DocumentID        string
	RelatedDocumentID string
	SourceField       string
	CreatedAt         time.Time
}

// Severity classifies a Log row.
type Severity string

const (
	SeverityInfo    Severity = "I"
	SeverityWarning Severity = "W"
	SeverityError   Severity = "E"
	SeveritySuccess Severity = "S"
)

// Log is one append-only audit row. Each row carries the diagnostic detail of
// exactly one transition.
type Log struct {
	ID            string
	CreatedAt     time.Time
	Severity      Severity
	Message       string
	RuleID        string
	DocumentID    string
	RefDocumentID string // document blocking or explaining this one
	JobID         string
}
