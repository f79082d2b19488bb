package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation    = "23505"
	pgCheckViolation     = "23514"
	pgLockNotAvailable   = "55P03"
	pgSerializationRetry = "40001"
)

// IsUniqueViolation reports whether err is a unique constraint violation. When
// names are provided, the violation must reference one of them: postgres errors
// are matched on the constraint name, other drivers on the message text (sqlite
// reports "UNIQUE constraint failed: table.column").
func IsUniqueViolation(err error, names ...string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation && matchesAny(pgErr.ConstraintName, names)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) && len(names) == 0 {
		return true
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return messageMentions(msg, names)
}

// IsCheckViolation reports whether err is a CHECK constraint failure.
func IsCheckViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCheckViolation
	}
	return strings.Contains(err.Error(), "CHECK constraint failed")
}

// IsLockNotAvailable reports whether err means a row lock could not be taken
// without waiting (FOR UPDATE NOWAIT, serialization failure, or sqlite busy).
func IsLockNotAvailable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailable || pgErr.Code == pgSerializationRetry
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "could not obtain lock")
}

func matchesAny(value string, names []string) bool {
	if len(names) == 0 {
		return true
	}
	for _, name := range names {
		if name != "" && value == name {
			return true
		}
	}
	return false
}

func messageMentions(msg string, names []string) bool {
	if len(names) == 0 {
		return true
	}
	for _, name := range names {
		if name != "" && strings.Contains(msg, name) {
			return true
		}
	}
	return false
}
