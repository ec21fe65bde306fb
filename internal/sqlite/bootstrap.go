package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// bootstrapTimeout bounds the one-time schema bootstrap.
const bootstrapTimeout = 30 * time.Second

// Bootstrap ensures every table, index and additive column exists. It runs
// once per attach; later calls return the first call's result. A failure is
// fatal for the attach: nothing can proceed without the schema.
func (b *Backend) Bootstrap(ctx context.Context) error {
	b.bootOnce.Do(func() {
		// Detached from the caller so one cancelled request cannot poison
		// the memoized result.
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bootstrapTimeout)
		defer cancel()
		b.bootErr = b.runBootstrap(bctx)
	})
	return b.bootErr
}

func (b *Backend) runBootstrap(ctx context.Context) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	c := dbtx{q: db, d: b.dialect}
	start := time.Now()

	for _, stmt := range schemaDDL {
		if err := c.execDDL(ctx, stmt); err != nil {
			return errors.Wrapf(types.ErrDatabaseUnavailable, "sqlite store: bootstrap: %v", err)
		}
	}
	for _, add := range columnAdditions {
		if err := c.addColumn(ctx, add); err != nil {
			return errors.Wrapf(types.ErrDatabaseUnavailable, "sqlite store: bootstrap: add %s.%s: %v", add.table, add.column, err)
		}
	}
	for _, stmt := range indexDDL {
		if err := c.execDDL(ctx, stmt); err != nil {
			return errors.Wrapf(types.ErrDatabaseUnavailable, "sqlite store: bootstrap: %v", err)
		}
	}

	log.Debug().
		Str("backend", b.dialect.name).
		Int("tables", len(schemaDDL)).
		Dur("elapsed", time.Since(start)).
		Msg("sqlite store: schema ready")
	return nil
}

// execDDL runs an IF NOT EXISTS statement. Concurrent bootstraps in other
// processes can still race PostgreSQL's catalog; that race is ignored.
func (c dbtx) execDDL(ctx context.Context, stmt string) error {
	_, err := c.exec(ctx, stmt)
	if err != nil && c.d.name == types.BackendPostgres && isUniqueViolation(err) {
		return nil
	}
	return err
}

// addColumn adds a column unless it already exists.
func (c dbtx) addColumn(ctx context.Context, add columnAddition) error {
	if c.d.name == types.BackendPostgres {
		return c.execDDL(ctx, "ALTER TABLE "+add.table+" ADD COLUMN IF NOT EXISTS "+add.column+" "+add.definition)
	}

	exists, err := c.columnExists(ctx, add.table, add.column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = c.exec(ctx, "ALTER TABLE "+add.table+" ADD COLUMN "+add.column+" "+add.definition)
	if err != nil && strings.Contains(err.Error(), "duplicate column") {
		return nil
	}
	return err
}

func (c dbtx) columnExists(ctx context.Context, table, column string) (bool, error) {
	var n int
	err := c.queryRow(ctx, "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
