// Package connector defines the Solution interface the engine reads
// application data through, and a registry mapping connection ids to
// Solution instances.
//
// Connector wire protocols are out of the engine's hands; a Solution is
// fallible and possibly slow and the engine never retries a call.
package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/solatis/docsync/internal/types"
)

// CallType tells a Solution why it is being read.
type CallType string

const (
	CallRead    CallType = "read"    // source records to create documents from
	CallHistory CallType = "history" // current target record before an update
	CallSearch  CallType = "search"  // duplicate search on target fields
)

// ReadRequest selects records of one module. Query holds field -> value
// equality constraints joined with AND; an empty Query reads everything.
type ReadRequest struct {
	Module       string
	Fields       []string
	Query        map[string]any
	RuleParams   map[string]string
	CallType     CallType
	DocumentType types.DocType
	Limit        int
}

// ReadResult holds matching records. Every record carries an "id" key.
type ReadResult struct {
	Values []types.Record
}

// WriteRequest creates or updates records of one module. A record with an
// empty or missing "id" is created.
type WriteRequest struct {
	Module  string
	Records []types.Record
}

// WriteResult returns the id of every written record, in request order.
type WriteResult struct {
	IDs []string
}

// Solution is one connected application.
type Solution interface {
	ReadData(ctx context.Context, req ReadRequest) (ReadResult, error)
	WriteData(ctx context.Context, req WriteRequest) (WriteResult, error)
	GetModuleFields(ctx context.Context, module string) ([]string, error)
}

// Registry maps connection ids to solutions. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	solutions map[string]Solution
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{solutions: make(map[string]Solution)}
}

// Register binds a connection id to a solution, replacing any previous one.
func (r *Registry) Register(connectionID string, s Solution) {
	r.mu.Lock()
	r.solutions[connectionID] = s
	r.mu.Unlock()
}

// Get returns the solution for a connection id.
func (r *Registry) Get(connectionID string) (Solution, error) {
	r.mu.RLock()
	s, ok := r.solutions[connectionID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownConnection, connectionID)
	}
	return s, nil
}

// Close closes every registered solution that holds resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, s := range r.solutions {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
