package db

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == pgerrcode.UniqueViolation
}

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	return pgCode(err) == pgerrcode.ForeignKeyViolation
}

// IsRetryable reports serialization and deadlock failures.
func IsRetryable(err error) bool {
	switch pgCode(err) {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return true
	}
	return false
}

// Describe returns a short operator-facing explanation of a database error.
func Describe(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err.Error()
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Sprintf("duplicate value violates %s", pgErr.ConstraintName)
	case pgerrcode.ForeignKeyViolation:
		return fmt.Sprintf("reference violates %s", pgErr.ConstraintName)
	case pgerrcode.CheckViolation:
		return fmt.Sprintf("value violates check %s", pgErr.ConstraintName)
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return "concurrent update conflict, retry the operation"
	}
	return fmt.Sprintf("database error %s: %s", pgErr.Code, pgErr.Message)
}
