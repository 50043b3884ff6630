// Package store provides the pooled SQLite data-access layer: a pool manager
// that probes and rebuilds its connections, and the user and session stores.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/apversus/sauai/internal/logging"
)

// PoolConfig configures a Pool. Zero values take the defaults noted per field.
type PoolConfig struct {
	URL          string
	MaxOpenConns int           // 10
	MaxIdleConns int           // 1
	MaxAttempts  int           // 3
	RetryDelay   time.Duration // 1s, wait after a rebuild before the next attempt
	RebuildDelay time.Duration // 2s, wait between closing and reopening the pool
	BusyTimeout  time.Duration // 60s
}

func (c *PoolConfig) applyDefaults() {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.RebuildDelay < 0 {
		c.RebuildDelay = 0
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 60 * time.Second
	}
}

// Pool owns a bounded set of database connections. Every checkout is probed
// and a connectivity failure tears the whole pool down and rebuilds it.
type Pool struct {
	cfg  PoolConfig
	path string
	log  *logging.Logger

	// open creates a ready-to-use handle; replaced in tests.
	open func(ctx context.Context) (*sql.DB, error)

	mu     sync.RWMutex
	db     *sql.DB
	gen    uint64
	closed bool

	stale     atomic.Bool
	rebuilds  atomic.Int64
	onRebuild []func(cause error)
}

// ParseDatabaseURL returns the SQLite file path named by a database URL.
// Accepted forms: sqlite:///abs/path.db, sqlite://relative.db, file:path,
// a bare path, or :memory:.
func ParseDatabaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	var path string
	switch {
	case raw == "":
		return "", errors.New("database url is empty")
	case raw == ":memory:":
		return raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		path = strings.TrimPrefix(raw, "sqlite://")
	case strings.HasPrefix(raw, "file:"):
		path = strings.TrimPrefix(strings.TrimPrefix(raw, "file:"), "//")
	case strings.Contains(raw, "://"):
		scheme, _, _ := strings.Cut(raw, "://")
		return "", fmt.Errorf("unsupported database scheme %q", scheme)
	default:
		path = raw
	}
	path, _, _ = strings.Cut(path, "?")
	if p, err := url.PathUnescape(path); err == nil {
		path = p
	}
	if path == "" {
		return "", fmt.Errorf("database url %q has no path", raw)
	}
	return path, nil
}

// OpenPool parses cfg.URL, opens the database, verifies it and applies migrations.
func OpenPool(ctx context.Context, cfg PoolConfig, log *logging.Logger) (*Pool, error) {
	cfg.applyDefaults()
	path, err := ParseDatabaseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		cfg.MaxOpenConns, cfg.MaxIdleConns = 1, 1
	} else if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	p := &Pool{cfg: cfg, path: path, log: log.Sub("store")}
	p.open = p.openDB

	db, err := p.open(ctx)
	if err != nil {
		return nil, err
	}
	p.db = db
	p.log.Info().Str("path", path).Int("max_conns", cfg.MaxOpenConns).Msg("database opened")
	return p, nil
}

func (p *Pool) dsn() string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", p.cfg.BusyTimeout.Milliseconds()))
	if p.path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_txlock", "immediate")
	return p.path + "?" + q.Encode()
}

func (p *Pool) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", p.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(p.cfg.MaxOpenConns)
	db.SetMaxIdleConns(p.cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, db, p.log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// OnRebuild registers a callback invoked after every successful rebuild.
// Register before the pool is shared between goroutines.
func (p *Pool) OnRebuild(fn func(cause error)) {
	p.onRebuild = append(p.onRebuild, fn)
}

// Rebuilds returns how many times the pool has been rebuilt.
func (p *Pool) Rebuilds() int64 { return p.rebuilds.Load() }

// Path returns the database file path.
func (p *Pool) Path() string { return p.path }

// Acquire checks out one probed connection, runs fn with it and always returns
// it to the pool. Checkout failures of the connectivity class rebuild the pool
// and are retried up to MaxAttempts times; any error from fn is returned as is,
// since the work may not be safe to repeat.
func (p *Pool) Acquire(ctx context.Context, fn func(ctx context.Context, conn *sql.Conn) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if p.stale.Load() {
			p.mu.RLock()
			gen, closed := p.gen, p.closed
			p.mu.RUnlock()
			if closed {
				return ErrPoolClosed
			}
			if err := p.rebuild(ctx, gen, errors.New("connection failed during previous operation")); err != nil {
				p.log.Warn().Err(err).Msg("rebuilding stale pool failed")
			}
		}

		conn, gen, err := p.checkout(ctx)
		if err == nil {
			err = p.run(ctx, conn, fn)
			if err != nil && ctx.Err() == nil && IsConnectivityError(err) {
				p.stale.Store(true)
			}
			return err
		}

		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsConnectivityError(err) {
			return err
		}
		p.log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", p.cfg.MaxAttempts).Msg("connection checkout failed")
		if attempt == p.cfg.MaxAttempts {
			break
		}
		if rerr := p.rebuild(ctx, gen, err); rerr != nil {
			p.log.Error().Err(rerr).Msg("pool rebuild failed")
		}
		if err := sleepCtx(ctx, p.cfg.RetryDelay); err != nil {
			return err
		}
	}
	return fmt.Errorf("acquire connection: %d attempts failed: %w", p.cfg.MaxAttempts, lastErr)
}

// Tx runs fn inside a transaction on one acquired connection, committing on
// success and rolling back on error or panic.
func (p *Pool) Tx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return p.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) (err error) {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() {
			if r := recover(); r != nil {
				_ = tx.Rollback()
				panic(r)
			}
			if err != nil {
				_ = tx.Rollback()
			}
		}()
		if err = fn(ctx, tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// HealthCheck performs one full acquire, probe and release cycle.
func (p *Pool) HealthCheck(ctx context.Context) bool {
	err := p.Acquire(ctx, func(context.Context, *sql.Conn) error { return nil })
	if err != nil {
		p.log.Warn().Err(err).Msg("health check failed")
		return false
	}
	return true
}

// Version returns the SQLite library version.
func (p *Pool) Version(ctx context.Context) (string, error) {
	var v string
	err := p.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&v)
	})
	return v, err
}

// Close closes every connection. Later operations fail with ErrPoolClosed
// and the pool is never rebuilt again.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.log.Info().Msg("closing database")
	return p.db.Close()
}

// checkout takes a connection from the current pool and probes it. The
// generation identifies the pool the failure belongs to.
func (p *Pool) checkout(ctx context.Context) (*sql.Conn, uint64, error) {
	p.mu.RLock()
	db, gen, closed := p.db, p.gen, p.closed
	p.mu.RUnlock()
	if closed {
		return nil, gen, ErrPoolClosed
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, gen, err
	}
	var one int
	if err := conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		_ = conn.Close()
		return nil, gen, fmt.Errorf("liveness probe: %w", err)
	}
	return conn, gen, nil
}

func (p *Pool) run(ctx context.Context, conn *sql.Conn, fn func(ctx context.Context, conn *sql.Conn) error) error {
	defer conn.Close()
	return fn(ctx, conn)
}

// rebuild closes the pool of generation gen, waits RebuildDelay and opens a
// new one. If another goroutine already rebuilt past gen it does nothing.
func (p *Pool) rebuild(ctx context.Context, gen uint64, cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.gen != gen {
		return nil
	}

	p.log.Warn().Err(cause).Dur("delay", p.cfg.RebuildDelay).Msg("rebuilding connection pool")
	if err := p.db.Close(); err != nil {
		p.log.Debug().Err(err).Msg("closing broken pool")
	}
	if err := sleepCtx(ctx, p.cfg.RebuildDelay); err != nil {
		p.stale.Store(true)
		return err
	}

	db, err := p.open(ctx)
	if err != nil {
		p.stale.Store(true)
		return fmt.Errorf("reopen database: %w", err)
	}
	p.db = db
	p.gen++
	p.stale.Store(false)
	n := p.rebuilds.Add(1)
	p.log.Warn().Int64("rebuilds", n).Msg("connection pool rebuilt")
	for _, fn := range p.onRebuild {
		fn(cause)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
