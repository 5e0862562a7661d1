package connector

import (
	"fmt"

	"github.com/solatis/docsync/internal/ruleset"
)

// Opener builds a Solution for one configured connection.
type Opener func(conn ruleset.Connection) (Solution, error)

// BuildRegistry opens every connection of rs with the opener registered for
// its driver. Connections already opened are closed on failure.
func BuildRegistry(rs *ruleset.RuleSet, openers map[string]Opener) (*Registry, error) {
	reg := NewRegistry()
	for _, conn := range rs.Connections() {
		open, ok := openers[conn.Driver]
		if !ok {
			reg.Close()
			return nil, fmt.Errorf("connection %s: unknown driver %q", conn.ID, conn.Driver)
		}
		s, err := open(conn)
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("connection %s: %w", conn.ID, err)
		}
		reg.Register(conn.ID, s)
	}
	return reg, nil
}
