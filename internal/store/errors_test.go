package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"conn done wrapped", fmt.Errorf("query: %w", sql.ErrConnDone), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"closed", errors.New("sql: database is closed"), true},
		{"locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"io", errors.New("disk I/O error"), true},
		{"constraint", errors.New("constraint failed: UNIQUE constraint failed: users.username"), false},
		{"syntax", errors.New(`SQL logic error: near "SELEC": syntax error`), false},
		{"not found", ErrNotFound, false},
		{"pool closed", fmt.Errorf("acquire: %w", ErrPoolClosed), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectivityError(tt.err))
		})
	}
}
