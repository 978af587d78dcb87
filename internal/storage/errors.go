package storage

import (
	"errors"

	"github.com/lib/pq"
)

// pq error codes we branch on.
const (
	pqUniqueViolation = "23505"
)

// IsUniqueViolation reports whether err is a unique-constraint violation.
// Duplicate inserts on idempotent paths (recipient paths, hit dedup) are
// treated as success by callers.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return false
}
