package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound so callers can use either.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique index rejected the insert.
var ErrDuplicate = errors.New("duplicate")

// ErrCallClosed is returned when a terminal call record would be reopened.
var ErrCallClosed = errors.New("call record already terminal")

// isUniqueViolation matches translated GORM errors and the plain-text errors
// glebarez/sqlite and pgx produce when translation is unavailable.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value violates unique constraint")
}
