package sqlite

import (
	"database/sql/driver"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// dialect captures the differences between the SQLite and PostgreSQL
// renditions of the store. Queries are written once with ? placeholders.
type dialect struct {
	name   string
	driver string
}

var (
	dialectSQLite   = dialect{name: types.BackendSQLite, driver: "sqlite"}
	dialectPostgres = dialect{name: types.BackendPostgres, driver: "pgx"}
)

func dialectFor(backend string) (dialect, error) {
	switch backend {
	case types.BackendSQLite:
		return dialectSQLite, nil
	case types.BackendPostgres:
		return dialectPostgres, nil
	}
	return dialect{}, types.ErrBackendUnknown
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (d dialect) rebind(query string) string {
	if d.name != types.BackendPostgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// transientError marks a driver error as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func (e *transientError) Is(target error) bool {
	return target == types.ErrTransient
}

// classify wraps retryable driver errors so errors.Is(err, types.ErrTransient)
// holds. Other errors are returned unchanged.
func classify(err error) error {
	if err == nil || !isTransient(err) {
		return err
	}
	return &transientError{err: err}
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "40001", "40P01", "57P01", "57P02", "57P03":
			return true
		}
		return strings.HasPrefix(pe.Code, "08")
	}
	return pgconn.SafeToRetry(err)
}

// isUniqueViolation reports a primary key or unique constraint failure.
func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}
