package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("not found")

// ErrPoolClosed is returned by every operation on a pool after Close.
var ErrPoolClosed = errors.New("store: pool is closed")

// connectivityMarkers are lower-cased fragments of driver messages that mean the
// connection or the database file is unusable rather than the statement wrong.
var connectivityMarkers = []string{
	"database is closed",
	"sqlite_busy",
	"database is locked",
	"unable to open database",
	"disk i/o error",
	"connection",
	"pool",
	"timeout",
	"server",
}

// IsConnectivityError reports whether err means the pool should be rebuilt.
// Data errors such as constraint violations return false, and so do a
// caller's own cancellation and a closed pool.
func IsConnectivityError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrPoolClosed) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range connectivityMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
