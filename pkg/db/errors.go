package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
)

// IsUniqueViolation reports whether err is a unique constraint violation.
// Postgres errors are matched by SQLSTATE and constraint name; sqlite errors,
// which carry no code, fall back to message matching.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if _, ok := pkgerrors.PG(err); ok {
		return pkgerrors.HasPGCode(err, pkgerrors.PGUniqueViolation, constraintName)
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
