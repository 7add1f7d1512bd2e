// Package sqlite provides the SQLite driver for the durable store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/olympus-org/olympus/internal/store/driver"

	_ "modernc.org/sqlite" // SQLite driver
)

// Driver implements driver.Driver for SQLite via modernc.org/sqlite.
type Driver struct{}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Dialect returns the goose dialect for SQLite.
func (d *Driver) Dialect() string {
	return "sqlite3"
}

// Open opens the database file, creating parent directories as needed.
// WAL mode plus a busy timeout lets concurrent readers proceed while
// writes serialize; the pool is capped at one connection so the store
// never sees SQLITE_BUSY from its own writers.
func (d *Driver) Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is empty")
	}
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", buildDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database %q: %w", dsn, err)
	}
	return db, nil
}

// Rebind returns the query unchanged; SQLite uses "?" natively.
func (d *Driver) Rebind(query string) string {
	return query
}

// buildDSN appends the connection pragmas to the database path.
func buildDSN(path string) string {
	pragmas := []string{
		"_pragma=journal_mode(WAL)",
		"_pragma=busy_timeout(5000)",
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(on)",
	}
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(path)
	b.WriteString("?")
	b.WriteString(strings.Join(pragmas, "&"))
	return b.String()
}

func init() {
	driver.Register(&Driver{})
}
