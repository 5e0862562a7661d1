package types

import "errors"

// Sentinel errors for docsync operations.
var (
	// ErrDocumentNotFound indicates no document exists with the given id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidDocumentID indicates a malformed document identifier.
	ErrInvalidDocumentID = errors.New("invalid document id")

	// ErrUnknownRule indicates a rule id is not part of the rule set.
	ErrUnknownRule = errors.New("unknown rule")

	// ErrDirectionUnknown indicates a relationship direction could not be derived.
	ErrDirectionUnknown = errors.New("relationship direction unknown")

	// ErrRuleCycle indicates parent/child relationships form a cycle.
	ErrRuleCycle = errors.New("parent/child rule cycle")

	// ErrInvalidOperator indicates an unknown filter operator.
	ErrInvalidOperator = errors.New("invalid filter operator")

	// ErrCoercionFailed indicates type coercion failed.
	ErrCoercionFailed = errors.New("type coercion failed")

	// ErrFieldNotFound indicates a field could not be resolved in a record.
	ErrFieldNotFound = errors.New("field not found")

	// ErrPathTooDeep indicates a field path exceeds MaxPathDepth.
	ErrPathTooDeep = errors.New("field path exceeds maximum depth")

	// ErrFormula indicates a formula failed to compile or execute.
	ErrFormula = errors.New("invalid formula")

	// ErrJobInactive indicates the job was stopped by an operator.
	ErrJobInactive = errors.New("job not active")

	// ErrMaxDepth indicates the child cascade exceeded its depth limit.
	ErrMaxDepth = errors.New("child cascade depth exceeded")

	// ErrMissingSourceID indicates a source record carries no id.
	ErrMissingSourceID = errors.New("source record has no id")

	// ErrUnknownConnection indicates no connector is registered for a connection id.
	ErrUnknownConnection = errors.New("unknown connection")
)

// Resource limits enforced by the engine.
const (
	// MaxPathDepth bounds filter field paths ($.a.b.c...).
	MaxPathDepth = 16

	// DefaultMaxChildDepth bounds parent -> child -> grandchild cascades.
	DefaultMaxChildDepth = 8
)
