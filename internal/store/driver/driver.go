// Package driver defines the database driver interface for the durable
// store. Each backend (SQLite, PostgreSQL) implements this interface and
// registers itself at init time.
package driver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Driver abstracts the database-specific parts of the store.
type Driver interface {
	// Name returns the driver identifier (e.g., "sqlite", "postgres")
	Name() string

	// Open establishes a connection pool for the given DSN.
	Open(ctx context.Context, dsn string) (*sql.DB, error)

	// Dialect returns the goose dialect string used for migrations.
	Dialect() string

	// Rebind converts "?" placeholders to the driver's native format.
	// SQLite keeps "?", PostgreSQL rewrites to "$1", "$2", ...
	Rebind(query string) string
}

// Registry holds registered database drivers.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry creates a new driver registry.
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[string]Driver),
	}
}

// Register adds a driver to the registry.
func (r *Registry) Register(driver Driver) {
	r.drivers[driver.Name()] = driver
}

// Get retrieves a driver by name.
func (r *Registry) Get(name string) (Driver, bool) {
	driver, ok := r.drivers[name]
	return driver, ok
}

// globalRegistry is the default driver registry.
var globalRegistry = NewRegistry()

// Register registers a driver in the global registry.
func Register(driver Driver) {
	globalRegistry.Register(driver)
}

// Get retrieves a driver from the global registry.
func Get(name string) (Driver, bool) {
	return globalRegistry.Get(name)
}

// Resolve sniffs the DSN scheme and returns the matching driver together
// with the DSN the driver expects. A bare filesystem path or a sqlite://
// URL selects SQLite; postgres:// and postgresql:// select PostgreSQL.
func Resolve(dsn string) (Driver, string, error) {
	name, rest := splitDSN(dsn)
	drv, ok := Get(name)
	if !ok {
		return nil, "", fmt.Errorf("database driver %q not registered (dsn %q)", name, dsn)
	}
	return drv, rest, nil
}

func splitDSN(dsn string) (name, rest string) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		// pgx wants the full URL including the scheme.
		return "postgres", dsn
	default:
		// Bare paths such as ".data/olympus.db" mean local SQLite.
		return "sqlite", dsn
	}
}
