package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/apversus/sauai/internal/config"
	"github.com/apversus/sauai/internal/store"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newDiagnoseCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Check the database configuration and connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cfg, err := readConfig(ctx)
			if err != nil {
				return err
			}

			if !diagnose(ctx, cmd.OutOrStdout(), cfg.Database) {
				return fmt.Errorf("database diagnosis failed")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "overall time limit")
	return cmd
}

var (
	okMark   = color.New(color.FgGreen, color.Bold).SprintFunc()
	failMark = color.New(color.FgRed, color.Bold).SprintFunc()
	infoMark = color.New(color.FgCyan).SprintFunc()
	title    = color.New(color.Bold).SprintFunc()
)

// diagnose runs each database check in order and stops at the first failure.
func diagnose(ctx context.Context, w io.Writer, db config.DatabaseConfig) bool {
	fmt.Fprintln(w, title("SAÚ AI database diagnosis"))
	fmt.Fprintln(w, strings.Repeat("=", 50))

	ok := func(format string, args ...any) {
		fmt.Fprintf(w, "%s %s\n", okMark("✔"), fmt.Sprintf(format, args...))
	}
	fail := func(format string, args ...any) bool {
		fmt.Fprintf(w, "%s %s\n", failMark("✘"), fmt.Sprintf(format, args...))
		return false
	}
	info := func(format string, args ...any) {
		fmt.Fprintf(w, "  %s\n", infoMark(fmt.Sprintf(format, args...)))
	}

	// Environment
	source := "config file"
	if os.Getenv("DATABASE_URL") != "" {
		source = "DATABASE_URL"
	}
	if db.URL == "" {
		return fail("no database URL configured")
	}
	ok("database URL set from %s: %s", source, truncate(db.URL, 50))

	path, err := store.ParseDatabaseURL(db.URL)
	if err != nil {
		return fail("cannot parse database URL: %v", err)
	}
	info("path: %s", path)
	if st, err := os.Stat(path); err == nil {
		info("size: %d bytes", st.Size())
	} else {
		info("file does not exist yet; it will be created")
	}

	// Connection
	pool, err := store.OpenPool(ctx, poolConfig(db), log)
	if err != nil {
		return fail("connection failed: %v", err)
	}
	defer pool.Close()

	v, err := pool.Version(ctx)
	if err != nil {
		return fail("version query failed: %v", err)
	}
	ok("connected to SQLite %s", v)

	// Pool manager
	if !pool.HealthCheck(ctx) {
		return fail("pool health check failed")
	}
	ok("pool health check passed")

	var one int
	err = pool.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
	if err != nil || one != 1 {
		return fail("basic query failed: %v", err)
	}
	ok("basic query passed")
	info("pool rebuilds: %d", pool.Rebuilds())

	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w, okMark("all checks passed"))
	return true
}

// truncate shortens s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
