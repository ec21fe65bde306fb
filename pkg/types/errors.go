package types

import "github.com/pkg/errors"

// Boundary errors surfaced to callers of the canvas service.
var (
	ErrAuthenticationRequired    = errors.New("authentication required")
	ErrVersionConflictUnresolved = errors.New("version conflict could not be resolved")
	ErrBackupNotFound            = errors.New("backup not found")
	ErrThreadNotFound            = errors.New("thread or checkpoint not found")
	ErrDatabaseUnavailable       = errors.New("database unavailable")
)

// ErrCheckpointNotFound reports a missing checkpoint; it matches
// ErrThreadNotFound under errors.Is.
var ErrCheckpointNotFound = errors.Wrap(ErrThreadNotFound, "checkpoint")

// Store-level errors.
var (
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidID       = errors.New("invalid entity ID")
	ErrInvalidData     = errors.New("invalid entity data")
	ErrVersionConflict = errors.New("version conflict")
)

// Error codes returned by ErrorCode.
const (
	CodeAuthenticationRequired    = "authentication_required"
	CodeVersionConflictUnresolved = "version_conflict_unresolved"
	CodeBackupNotFound            = "backup_not_found"
	CodeThreadNotFound            = "thread_or_checkpoint_not_found"
	CodeDatabaseUnavailable       = "database_unavailable"
	CodeNotFound                  = "not_found"
	CodeInvalidRequest            = "invalid_request"
	CodeInternal                  = "internal"
)

// ErrorCode maps err to a stable, client-safe code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthenticationRequired):
		return CodeAuthenticationRequired
	case errors.Is(err, ErrVersionConflictUnresolved), errors.Is(err, ErrVersionConflict):
		return CodeVersionConflictUnresolved
	case errors.Is(err, ErrBackupNotFound):
		return CodeBackupNotFound
	case errors.Is(err, ErrThreadNotFound):
		return CodeThreadNotFound
	case errors.Is(err, ErrDatabaseUnavailable):
		return CodeDatabaseUnavailable
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidID), errors.Is(err, ErrInvalidData), errors.Is(err, ErrBackendEmpty),
		errors.Is(err, ErrBackendUnknown):
		return CodeInvalidRequest
	}
	return CodeInternal
}

// ErrTransient marks database errors worth retrying (busy, locked, dropped
// connection). Backends wrap such errors so errors.Is matches it.
var ErrTransient = errors.New("transient database error")
