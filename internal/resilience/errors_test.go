package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("unknown session"), false},
		{"explicit transient", NewTransientError(errors.New("blip")), true},
		{"wrapped transient", fmt.Errorf("store: %w", NewTransientError(errors.New("blip"))), true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"pg serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"pg connection exception class", &pgconn.PgError{Code: "08006"}, true},
		{"pg constraint violation", &pgconn.PgError{Code: "23505"}, false},
		{"pg syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"io timeout string", errors.New("read tcp: i/o timeout"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err), "IsTransient(%v)", tt.err)
		})
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	te := NewTransientError(inner)
	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "inner", te.Error())
}
