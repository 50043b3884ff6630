package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apversus/sauai/internal/logging"
)

func testPool(t *testing.T) *Pool {
	t.Helper()
	cfg := PoolConfig{
		URL:          "sqlite://" + filepath.Join(t.TempDir(), "sauai.db"),
		MaxOpenConns: 4,
		RetryDelay:   time.Millisecond,
		RebuildDelay: time.Millisecond,
		BusyTimeout:  5 * time.Second,
	}
	p, err := OpenPool(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func testStores(t *testing.T) (*UserStore, *SessionStore, *Pool) {
	t.Helper()
	p := testPool(t)
	return NewUserStore(p, logging.Nop()), NewSessionStore(p, logging.Nop()), p
}
