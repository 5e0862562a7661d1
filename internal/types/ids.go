package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// NewDocumentID generates a UUIDv7 document identifier.
// Time-ordered IDs ensure sequential inserts cluster in B-tree pages.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewDocumentID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewJobID generates a UUIDv7 job identifier.
func NewJobID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewRowID generates a UUIDv7 identifier for data, relationship and log rows.
func NewRowID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ParseDocumentID checks an operator-supplied document id and returns it in
// canonical form.
func ParseDocumentID(s string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidDocumentID, s, err)
	}
	return u.String(), nil
}

// NormalizeRecordID makes a source or target id safe to store and compare.
// Ids from connectors may carry accented characters in decomposed form or
// invalid UTF-8; both are folded to NFC valid UTF-8.
func NormalizeRecordID(id string) string {
	if !norm.NFC.IsNormalString(id) {
		id = norm.NFC.String(id)
	}
	return strings.ToValidUTF8(id, "�")
}
