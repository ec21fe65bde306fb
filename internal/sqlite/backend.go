// Package sqlite implements the relational storage backend for easel.
//
// Every canvas is stored twice: as a JSON document on its canvases row and as
// normalized node, message and edge rows used for targeted reads and
// cascading deletes. The same statements serve SQLite (modernc.org/sqlite)
// and PostgreSQL (pgx stdlib driver); placeholders are rebound per dialect.
package sqlite

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// DatabaseFile is the SQLite file created under Config.DataDir.
const DatabaseFile = "easel.db"

// sqlitePragmas are applied to every pooled connection.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
}

var _ types.Store = (*Backend)(nil)

// Backend implements types.Store over database/sql.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	dialect  dialect
	db       *sql.DB

	bootOnce sync.Once
	bootErr  error

	now func() time.Time

	// syncFault, when set, fails normalization for a canvas. Tests use it
	// to open the window between the document write and the sync.
	syncFault func(canvasID string) error

	canvases *canvasTable
	nodes    *nodeTable
	backups  *backupTable
	metadata *metadataTable
	threads  *threadTable
}

// NewBackend creates a new backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	b := &Backend{now: time.Now}
	b.canvases = &canvasTable{backend: b}
	b.nodes = &nodeTable{backend: b}
	b.backups = &backupTable{backend: b}
	b.metadata = &metadataTable{backend: b}
	b.threads = &threadTable{backend: b}
	return b
}

// Attach opens the connection pool described by config. The schema is not
// touched until the first operation needs it.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(ctx context.Context, config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}
	d, err := dialectFor(config.Backend)
	if err != nil {
		return err
	}

	dsn, err := dataSourceName(config)
	if err != nil {
		return err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return errors.Wrapf(types.ErrDatabaseUnavailable, "sqlite store: open %s: %v", d.name, err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrapf(types.ErrDatabaseUnavailable, "sqlite store: ping %s: %v", d.name, err)
	}

	b.db = db
	b.dialect = d
	b.config = config
	b.bootOnce = sync.Once{}
	b.bootErr = nil
	b.attached = true

	log.Debug().Str("backend", d.name).Msg("sqlite store: attached")
	return nil
}

// dataSourceName returns the driver DSN. For SQLite without an explicit DSN
// it creates DataDir and points at DatabaseFile inside it.
func dataSourceName(config types.Config) (string, error) {
	if config.Backend == types.BackendPostgres {
		return config.DSN, nil
	}
	if config.DSN != "" {
		return withPragmas(config.DSN), nil
	}
	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", errors.Wrap(err, "sqlite store: create data dir")
	}
	return withPragmas("file:" + filepath.Join(dataDir, DatabaseFile)), nil
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	params := url.Values{}
	for _, p := range sqlitePragmas {
		params.Add("_pragma", p)
	}
	params.Set("_txlock", "immediate")
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + params.Encode()
}

// Detach closes the connection pool. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	return nil
}

// Close implements types.Store; it is Detach.
func (b *Backend) Close() error {
	return b.Detach()
}

// Dialect returns the attached backend name.
func (b *Backend) Dialect() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dialect.name
}

// Ping checks that the database answers.
func (b *Backend) Ping(ctx context.Context) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return errors.Wrapf(types.ErrDatabaseUnavailable, "sqlite store: ping: %v", err)
	}
	return nil
}

// Lifecycle errors.
var (
	ErrDetached        = errors.Wrap(types.ErrDatabaseUnavailable, "backend is detached")
	ErrAlreadyAttached = errors.New("backend is already attached")
)

func (b *Backend) handle() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached || b.db == nil {
		return nil, ErrDetached
	}
	return b.db, nil
}

// conn returns a handle on the attached database, bootstrapping the schema
// on first use.
func (b *Backend) conn(ctx context.Context) (dbtx, error) {
	db, err := b.handle()
	if err != nil {
		return dbtx{}, err
	}
	if err := b.Bootstrap(ctx); err != nil {
		return dbtx{}, err
	}
	return dbtx{q: db, d: b.dialect}, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dbtx runs ?-placeholder statements against a querier in one dialect and
// marks retryable failures.
type dbtx struct {
	q querier
	d dialect
}

func (c dbtx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.q.ExecContext(ctx, c.d.rebind(query), args...)
	return res, classify(err)
}

func (c dbtx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.q.QueryContext(ctx, c.d.rebind(query), args...)
	return rows, classify(err)
}

func (c dbtx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.rebind(query), args...)
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (b *Backend) withTx(ctx context.Context, fn func(tx dbtx) error) error {
	c, err := b.conn(ctx)
	if err != nil {
		return err
	}
	db := c.q.(*sql.DB)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify(errors.Wrap(err, "begin transaction"))
	}
	defer tx.Rollback()

	if err := fn(dbtx{q: tx, d: c.d}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(errors.Wrap(err, "commit transaction"))
	}
	return nil
}

func (b *Backend) timestamp() string {
	return types.FormatTime(b.now())
}

// newID generates a UUID v7 for entity IDs.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func boolToInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func parseTime(s string) time.Time {
	t, err := types.ParseTime(s)
	if err != nil {
		return time.Time{}
	}
	return t
}
