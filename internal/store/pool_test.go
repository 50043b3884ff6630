package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apversus/sauai/internal/logging"
)

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "sqlite:///var/lib/sauai.db", want: "/var/lib/sauai.db"},
		{raw: "sqlite://sauai.db", want: "sauai.db"},
		{raw: "sqlite://data/sauai.db?mode=rwc", want: "data/sauai.db"},
		{raw: "file:sauai.db", want: "sauai.db"},
		{raw: "file:///tmp/x.db", want: "/tmp/x.db"},
		{raw: "  ./local.db ", want: "./local.db"},
		{raw: ":memory:", want: ":memory:"},
		{raw: "", wantErr: true},
		{raw: "sqlite://", wantErr: true},
		{raw: "postgresql://user@host/db", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDatabaseURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenPool_InMemory(t *testing.T) {
	p, err := OpenPool(context.Background(), PoolConfig{URL: ":memory:"}, logging.Nop())
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 1, p.cfg.MaxOpenConns)
	assert.True(t, p.HealthCheck(context.Background()))
}

func TestOpenPool_Defaults(t *testing.T) {
	p := testPool(t)
	assert.Equal(t, 3, p.cfg.MaxAttempts)
	assert.Equal(t, 1, p.cfg.MaxIdleConns)
}

func TestMigrations_AppliedOnce(t *testing.T) {
	p := testPool(t)
	ctx := context.Background()

	err := p.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) error {
		return nil
	})
	require.NoError(t, err)

	p.mu.RLock()
	db := p.db
	p.mu.RUnlock()
	require.NoError(t, migrate(ctx, db, logging.Nop()))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)

	for _, table := range []string{"users", "sessions", "conversation_messages"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestPool_HealthCheck(t *testing.T) {
	p := testPool(t)
	assert.True(t, p.HealthCheck(context.Background()))

	v, err := p.Version(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, v)
}

func TestPool_RebuildsAfterConnectivityFailure(t *testing.T) {
	p := testPool(t)
	users := NewUserStore(p, logging.Nop())
	ctx := context.Background()

	_, err := users.CreateWebUser(ctx, "ana", "Ana", "")
	require.NoError(t, err)

	var causes []error
	p.OnRebuild(func(cause error) { causes = append(causes, cause) })

	// Break every connection behind the pool's back.
	p.mu.RLock()
	require.NoError(t, p.db.Close())
	p.mu.RUnlock()

	u, err := users.Get(ctx, "ana")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Ana", u.PersonalName)
	assert.Equal(t, int64(1), p.Rebuilds())
	require.Len(t, causes, 1)
	assert.True(t, IsConnectivityError(causes[0]))
	assert.True(t, p.HealthCheck(ctx))
}

func TestPool_ClosedStaysClosed(t *testing.T) {
	p := testPool(t)
	opens := 0
	p.open = func(ctx context.Context) (*sql.DB, error) {
		opens++
		return p.openDB(ctx)
	}
	ctx := context.Background()

	require.NoError(t, p.Close())

	calls := 0
	err := p.Acquire(ctx, func(context.Context, *sql.Conn) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.Zero(t, calls)
	assert.False(t, p.HealthCheck(ctx))

	p.stale.Store(true)
	assert.ErrorIs(t, p.Acquire(ctx, func(context.Context, *sql.Conn) error { return nil }), ErrPoolClosed)

	assert.Zero(t, opens)
	assert.Zero(t, p.Rebuilds())
	assert.NoError(t, p.Close())
}

func TestPool_GivesUpAfterMaxAttempts(t *testing.T) {
	p := testPool(t)
	broken := errors.New("unable to open database file")
	p.open = func(context.Context) (*sql.DB, error) { return nil, broken }

	p.mu.RLock()
	require.NoError(t, p.db.Close())
	p.mu.RUnlock()

	calls := 0
	err := p.Acquire(context.Background(), func(context.Context, *sql.Conn) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 attempts failed")
	assert.Zero(t, calls)
	assert.False(t, p.HealthCheck(context.Background()))
}

func TestPool_DataErrorsAreNotRetried(t *testing.T) {
	p := testPool(t)
	calls := 0
	err := p.Acquire(context.Background(), func(ctx context.Context, conn *sql.Conn) error {
		calls++
		_, err := conn.ExecContext(ctx, "INSERT INTO no_such_table VALUES (1)")
		return err
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Zero(t, p.Rebuilds())
	assert.False(t, p.stale.Load())
}

func TestPool_ConnectivityErrorFromWorkMarksStale(t *testing.T) {
	p := testPool(t)
	ctx := context.Background()

	err := p.Acquire(ctx, func(context.Context, *sql.Conn) error {
		return sql.ErrConnDone
	})
	require.ErrorIs(t, err, sql.ErrConnDone)
	assert.True(t, p.stale.Load())

	require.True(t, p.HealthCheck(ctx))
	assert.Equal(t, int64(1), p.Rebuilds())
	assert.False(t, p.stale.Load())
}

func TestPool_TxRollsBack(t *testing.T) {
	p := testPool(t)
	users := NewUserStore(p, logging.Nop())
	ctx := context.Background()

	boom := errors.New("boom")
	err := p.Tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (username, first_seen, last_seen) VALUES ('ghost', 0, 0)`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	u, err := users.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestPool_CanceledContext(t *testing.T) {
	p := testPool(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Acquire(ctx, func(context.Context, *sql.Conn) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, p.Rebuilds())
}
