package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error classifications used as metric labels. The set is closed; anything
// not recognised is ErrorTypeUnknown.
const (
	ErrorTypeAcquireTimeout        = "acquire_timeout"
	ErrorTypeTimeout               = "timeout"
	ErrorTypeCanceled              = "canceled"
	ErrorTypeConnection            = "connection"
	ErrorTypeSchema                = "schema"
	ErrorTypeInsufficientResources = "insufficient_resources"
	ErrorTypeQuery                 = "query"
	ErrorTypeUnknown               = "unknown"
)

// ErrorTypes lists every value ClassifyError can return for a non-nil error.
func ErrorTypes() []string {
	return []string{
		ErrorTypeAcquireTimeout,
		ErrorTypeTimeout,
		ErrorTypeCanceled,
		ErrorTypeConnection,
		ErrorTypeSchema,
		ErrorTypeInsufficientResources,
		ErrorTypeQuery,
		ErrorTypeUnknown,
	}
}

// ClassifyError maps a store error to its label. It returns "" for nil.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrAcquireTimeout):
		return ErrorTypeAcquireTimeout
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, ErrClosed), errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return ErrorTypeConnection
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return ErrorTypeConnection
	}

	if pgconn.Timeout(err) {
		return ErrorTypeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeConnection
	}

	return ErrorTypeUnknown
}

// classifySQLState groups SQLSTATE codes by class.
func classifySQLState(code string) string {
	switch {
	case code == "57014": // query_canceled, raised by statement_timeout
		return ErrorTypeTimeout
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"):
		return ErrorTypeConnection
	case strings.HasPrefix(code, "42"):
		return ErrorTypeSchema
	case strings.HasPrefix(code, "53"):
		return ErrorTypeInsufficientResources
	default:
		return ErrorTypeQuery
	}
}
