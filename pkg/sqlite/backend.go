// Package sqlite is the public entry point to easel's relational store.
// Despite the name it opens both dialects: SQLite by default and
// PostgreSQL when Config.Backend is "postgres".
package sqlite

import (
	"context"

	"github.com/mesh-intelligence/easel/internal/sqlite"
	"github.com/mesh-intelligence/easel/pkg/types"
)

// Store is an attached backend.
type Store interface {
	types.Store

	// Ping checks the connection.
	Ping(ctx context.Context) error

	// Bootstrap creates or upgrades the schema. Operations run it on first
	// use; calling it up front surfaces schema errors at startup.
	Bootstrap(ctx context.Context) error

	// Dialect names the backend in use.
	Dialect() string
}

// Open validates config, attaches a backend and bootstraps its schema.
//
// Example:
//
//	store, err := sqlite.Open(ctx, types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".easel-db",
//	})
//	defer store.Close()
func Open(ctx context.Context, config types.Config) (Store, error) {
	b := sqlite.NewBackend()
	if err := b.Attach(ctx, config); err != nil {
		return nil, err
	}
	if err := b.Bootstrap(ctx); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}
