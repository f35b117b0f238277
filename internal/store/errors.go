package store

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a compare-and-swap write lost the race,
	// e.g. a refresh link that another writer consumed first.
	ErrConflict = errors.New("conflict")

	// ErrDuplicate is returned when a unique constraint rejects an insert,
	// e.g. a usage record for an already-finalized request ID or a taken
	// username.
	ErrDuplicate = errors.New("duplicate")
)

// isUniqueViolation reports whether err is SQLite rejecting a write on a
// UNIQUE constraint. The driver exposes no typed error for this, so the
// constraint message text is matched, same as the extended error code 2067
// it accompanies.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
