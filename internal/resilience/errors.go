// Package resilience provides retry with backoff, transient-error
// classification for callers of the pattern store, and a circuit breaker
// for the feedback interpreter's API calls.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// TransientError wraps an error that is safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks an error as retryable.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// pgTransientCodes are PostgreSQL SQLSTATE classes/codes that indicate a
// condition worth retrying: connection failures, serialization conflicts,
// deadlocks, and admin-initiated shutdowns.
var pgTransientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"53300": true, // too_many_connections
}

// IsTransient reports whether the error (or anything in its chain) is safe
// to retry: an explicit TransientError, a network timeout, a transient
// PostgreSQL state, or a busy local SQLite database.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgTransientCodes[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08") {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String heuristics for errors wrapped past recognition by drivers.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
		"conn closed",
		"database is locked",
		"database table is locked",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
