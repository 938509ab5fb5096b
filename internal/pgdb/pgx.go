// Package pgdb provides the PostgreSQL-backed job store for batches and
// upload requests: connection pooling, serializable-retry transactions,
// and the queries backing the durable state machine in internal/worker.
package pgdb

import (
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// Standard error codes.
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	ErrorCodeUniqueViolation      = "23505"
	ErrorCodeDuplicateSchema      = "42P06"
	ErrorCodeDuplicateTable       = "42P07"
	ErrorCodeSerializationFailure = "40001"
	ErrorCodeDeadlockDetected     = "40P01"
)

// See: https://www.postgresql.org/docs/current/runtime-config-client.html#GUC-CLIENT-MIN-MESSAGES
var noticeSeverityToLogLevel = map[string]zerolog.Level{ //nolint:gochecknoglobals
	"DEBUG":   zerolog.DebugLevel,
	"LOG":     zerolog.InfoLevel,
	"INFO":    zerolog.InfoLevel,
	"NOTICE":  zerolog.InfoLevel,
	"WARNING": zerolog.WarnLevel,
}

func ErrorDetails(e *pgconn.PgError) map[string]interface{} {
	details := map[string]interface{}{}
	if e.Severity != "" {
		details["severity"] = e.Severity
	}
	if e.Code != "" {
		details["code"] = e.Code
	}
	if e.Message != "" {
		details[zerolog.MessageFieldName] = e.Message
	}
	if e.Detail != "" {
		details["details"] = e.Detail
	}
	if e.Hint != "" {
		details["hint"] = e.Hint
	}
	if e.ConstraintName != "" {
		details["constraintName"] = e.ConstraintName
	}
	if e.TableName != "" {
		details["tableName"] = e.TableName
	}
	return details
}

// WithPgxError wraps a pgx error, attaching PostgreSQL error fields as details.
func WithPgxError(err error) errors.E {
	errE := errors.WithStack(err)
	var e *pgconn.PgError
	if errors.As(err, &e) {
		details := errors.Details(errE)
		for key, value := range ErrorDetails(e) {
			details[key] = value
		}
	}
	return errE
}
