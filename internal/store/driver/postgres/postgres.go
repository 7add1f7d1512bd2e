// Package postgres provides the PostgreSQL driver for the durable store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/olympus-org/olympus/internal/store/driver"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// Driver implements driver.Driver for PostgreSQL via the pgx stdlib shim.
type Driver struct{}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "postgres"
}

// Dialect returns the goose dialect for PostgreSQL.
func (d *Driver) Dialect() string {
	return "postgres"
}

// Open establishes a connection pool to PostgreSQL.
func (d *Driver) Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// Rebind rewrites "?" placeholders to PostgreSQL's "$1", "$2", ... form.
// Question marks inside single-quoted string literals are left alone.
func (d *Driver) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inString := false
	for _, r := range query {
		switch {
		case r == '\'':
			inString = !inString
			b.WriteRune(r)
		case r == '?' && !inString:
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func init() {
	driver.Register(&Driver{})
}
