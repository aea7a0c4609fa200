package db

import (
	"context"
	"errors"
	"strings"

	pkgerrors "github.com/angelmondragon/loyalty-ledger/pkg/errors"
)

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateQueryCanceled        = "57014"
	sqlStateConnectionClass      = "08"
)

// IsUniqueViolation reports whether the provided error references a unique
// violation. When constraintName is provided the constraint must match too.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if code, constraint, ok := sqlState(err); ok {
		if code != sqlStateUniqueViolation {
			return false
		}
		return constraintName == "" || constraint == constraintName
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}

// IsTransient reports whether err is a storage failure a caller may retry:
// lock timeouts, deadlocks, serialization failures, cancelled statements,
// connection loss and expired deadlines.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	code, _, ok := sqlState(err)
	if !ok {
		return strings.Contains(err.Error(), "database is locked")
	}
	switch code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable, sqlStateQueryCanceled:
		return true
	}
	return strings.HasPrefix(code, sqlStateConnectionClass)
}

func sqlState(err error) (code, constraint string, ok bool) {
	pg, ok := pkgerrors.Postgres(err)
	return pg.Code, pg.Constraint, ok
}
