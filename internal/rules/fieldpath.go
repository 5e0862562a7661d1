// internal/rules/fieldpath.go
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/docsync/internal/types"
)

/*
 * Field path resolution for source records.
 *
 * Filter targets are usually plain field names, but connectors that return
 * nested documents (JSON APIs) need dotted paths: "billing.city" or
 * "lines[0].sku". A record key that literally equals the whole target wins
 * over path traversal, so flat records with dotted column names keep working.
 *
 * Key functions:
 *   - ParsePath: "a.b[0].c" -> []PathSegment
 *   - Resolve: traverses a record following a PathSegment chain
 *
 * Paths longer than MaxPathDepth are rejected at parse time.
 */

// PathSegment is one step of a field path: an object key or an array index.
type PathSegment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s PathSegment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Key
}

// ParsePath splits a dotted path with optional [n] indices.
// Returns ErrPathTooDeep if the path exceeds MaxPathDepth segments.
func ParsePath(path string) ([]PathSegment, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "$.")
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", types.ErrFieldNotFound)
	}

	var segs []PathSegment
	for _, part := range strings.Split(path, ".") {
		key := part
		var idx []int
		for {
			open := strings.LastIndexByte(key, '[')
			if open < 0 || !strings.HasSuffix(key, "]") {
				break
			}
			n, err := strconv.Atoi(key[open+1 : len(key)-1])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid index in path %q", path)
			}
			idx = append([]int{n}, idx...)
			key = key[:open]
		}
		if key == "" && len(idx) == 0 {
			return nil, fmt.Errorf("empty segment in path %q", path)
		}
		if key != "" {
			segs = append(segs, PathSegment{Key: key})
		}
		for _, n := range idx {
			segs = append(segs, PathSegment{Index: n, IsIndex: true})
		}
	}

	if len(segs) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	return segs, nil
}

// Resolve traverses record following path.
// Returns ErrFieldNotFound if the path does not exist in record.
func Resolve(path []PathSegment, record types.Record) (any, error) {
	if len(path) == 0 {
		return nil, types.ErrFieldNotFound
	}
	return resolveRecursive(path, map[string]any(record))
}

// ResolveField resolves a raw filter target against record. An exact key
// match is tried before path traversal.
func ResolveField(target string, record types.Record) (any, error) {
	if v, ok := record[target]; ok {
		return v, nil
	}
	path, err := ParsePath(target)
	if err != nil {
		return nil, err
	}
	return Resolve(path, record)
}

func resolveRecursive(path []PathSegment, current any) (any, error) {
	if len(path) == 0 {
		return current, nil
	}

	seg := path[0]
	remaining := path[1:]

	switch v := current.(type) {
	case map[string]any:
		if seg.IsIndex {
			return nil, types.ErrFieldNotFound
		}
		val, ok := v[seg.Key]
		if !ok {
			return nil, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, val)

	case types.Record:
		return resolveRecursive(path, map[string]any(v))

	case []any:
		if !seg.IsIndex || seg.Index >= len(v) {
			return nil, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, v[seg.Index])

	default:
		// nil or scalar with path remaining
		return nil, types.ErrFieldNotFound
	}
}
