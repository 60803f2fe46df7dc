// Package identifier builds and parses the canonical URIs that name
// authority rows across the reconciliation service's system boundary:
// "<prefix>/<entity_type>/<integer_id>".
package identifier

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned by [Parse] when id is neither a full canonical
// URI nor a bare integer.
var ErrMalformed = errors.New("identifier: malformed id")

// ID is a canonical identifier, resolved to its three parts.
type ID struct {
	Prefix     string
	EntityType string
	Numeric    int64
}

// Build returns the canonical URI "<prefix>/<entityType>/<numeric>".
func Build(prefix, entityType string, numeric int64) string {
	return fmt.Sprintf("%s/%s/%d", strings.TrimRight(prefix, "/"), entityType, numeric)
}

// Parse accepts either a full canonical URI ("<prefix>/<entity_type>/<id>")
// or a bare integer string and resolves it to an [ID].
//
// A bare integer has no entity type or prefix information, so EntityType
// and Prefix are left empty in that case — callers must already know which
// strategy to look the numeric id up in (as preview/get_by_id callers do,
// since the entity type is usually implied by the calling context).
//
// Returns [ErrMalformed] when s is neither shape.
func Parse(s string, expectPrefix string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ID{}, fmt.Errorf("%w: empty id", ErrMalformed)
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ID{Numeric: n}, nil
	}

	trimmedPrefix := strings.TrimRight(expectPrefix, "/")
	if trimmedPrefix != "" && strings.HasPrefix(s, trimmedPrefix+"/") {
		rest := strings.TrimPrefix(s, trimmedPrefix+"/")
		parts := strings.Split(rest, "/")
		if len(parts) == 2 {
			n, err := strconv.ParseInt(parts[1], 10, 64)
			if err == nil && parts[0] != "" {
				return ID{Prefix: trimmedPrefix, EntityType: parts[0], Numeric: n}, nil
			}
		}
		return ID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	// Fall back to generic "<anything>/<entity_type>/<id>" parsing when the
	// caller did not supply (or know) the configured prefix, e.g. when
	// validating ids produced by a different identifier_space than the one
	// currently configured.
	idx := strings.LastIndex(s, "/")
	if idx <= 0 || idx == len(s)-1 {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	n, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	head := s[:idx]
	typeIdx := strings.LastIndex(head, "/")
	entityType := head
	prefix := ""
	if typeIdx >= 0 {
		entityType = head[typeIdx+1:]
		prefix = head[:typeIdx]
	}
	if entityType == "" {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return ID{Prefix: prefix, EntityType: entityType, Numeric: n}, nil
}
