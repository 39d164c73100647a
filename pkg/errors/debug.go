package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLSTATE codes the lifecycle services react to.
const (
	PGUniqueViolation      = "23505"
	PGForeignKeyViolation  = "23503"
	PGCheckViolation       = "23514"
	PGSerializationFailure = "40001"
	PGDeadlockDetected     = "40P01"
)

// PGFields are the Postgres diagnostics carried by driver errors.
type PGFields struct {
	Code       string `json:"pg_code,omitempty"`
	Constraint string `json:"pg_constraint,omitempty"`
	Table      string `json:"pg_table,omitempty"`
	Column     string `json:"pg_column,omitempty"`
	Detail     string `json:"pg_detail,omitempty"`
	Message    string `json:"pg_message,omitempty"`
}

// ErrorDump flattens an error chain for structured logs.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Retryable  bool     `json:"retryable"`
	Chain      []string `json:"chain,omitempty"`
	PGFields
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Retryable = MetadataFor(te.Code()).Retryable
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	if fields, ok := PG(err); ok {
		d.PGFields = fields
		if !d.Retryable {
			d.Retryable = isTransientPG(fields.Code)
		}
	}
	return d
}

// PG extracts Postgres diagnostics from either the pgx or lib/pq driver.
func PG(err error) (PGFields, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return PGFields{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return PGFields{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}, true
	}
	return PGFields{}, false
}

// HasPGCode reports whether err carries the given SQLSTATE. A non-empty
// constraint must also match.
func HasPGCode(err error, code, constraint string) bool {
	fields, ok := PG(err)
	if !ok || fields.Code != code {
		return false
	}
	return constraint == "" || fields.Constraint == constraint
}

func isTransientPG(code string) bool {
	return code == PGSerializationFailure || code == PGDeadlockDetected
}
