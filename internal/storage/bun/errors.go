package bunrepo

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/goliatone/go-access-approval/pkg/interfaces/store"
	repository "github.com/goliatone/go-repository-bun"
)

// mapError normalizes driver errors into the store sentinels and, for lock
// contention, the retryable taxonomy error.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
		return store.ErrNotFound
	}
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if isLockContention(err) {
		return domain.TransientStoreError(err)
	}
	return err
}

// isUniqueViolation matches SQLite and Postgres unique constraint failures.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

// isLockContention matches the busy/deadlock/serialization failures that are
// safe to retry.
func isLockContention(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "SQLSTATE 40001") ||
		strings.Contains(msg, "SQLSTATE 40P01")
}
