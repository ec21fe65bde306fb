package types

import (
	"time"

	"github.com/pkg/errors"
)

// Config holds backend selection and parameters for opening a store.
type Config struct {
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`

	// DSN overrides the connection string. Required for postgres; for
	// sqlite it replaces the file derived from DataDir.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty" mapstructure:"dsn"`

	// RedisURL enables the metadata cache when set.
	RedisURL string `json:"redis_url,omitempty" yaml:"redis_url,omitempty" mapstructure:"redis_url"`

	// MaxRetries is the conflict retry budget of saves that name none.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty" mapstructure:"max_retries"`

	// RetryBaseDelay is the unit of exponential backoff (default 100ms).
	RetryBaseDelay time.Duration `json:"retry_base_delay,omitempty" yaml:"retry_base_delay,omitempty" mapstructure:"retry_base_delay"`

	// SyncMode selects how normalization follows a document write.
	SyncMode string `json:"sync_mode,omitempty" yaml:"sync_mode,omitempty" mapstructure:"sync_mode"`
}

// Supported backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Sync modes. Transactional runs the normalization pass in the same
// transaction as the document write. Deferred runs it afterwards as a
// best-effort follow-up, leaving a window where the shapes disagree.
const (
	SyncModeTransactional = "transactional"
	SyncModeDeferred      = "deferred"
)

// DefaultRetryBaseDelay is the backoff unit: attempt n waits 2^n times this.
const DefaultRetryBaseDelay = 100 * time.Millisecond

// Config validation errors.
var (
	ErrBackendEmpty       = errors.New("backend must not be empty")
	ErrBackendUnknown     = errors.New("unknown backend")
	ErrDSNRequired        = errors.New("dsn is required for this backend")
	ErrRetriesInvalid     = errors.New("max retries must not be negative")
	ErrSyncModeUnknown    = errors.New("unknown sync mode")
	ErrRetryDelayNegative = errors.New("retry base delay must not be negative")
)

var knownBackends = map[string]bool{
	BackendSQLite:   true,
	BackendPostgres: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Backend == BackendPostgres && c.DSN == "" {
		return ErrDSNRequired
	}
	if c.MaxRetries < 0 {
		return ErrRetriesInvalid
	}
	if c.RetryBaseDelay < 0 {
		return ErrRetryDelayNegative
	}
	switch c.SyncMode {
	case "", SyncModeTransactional, SyncModeDeferred:
	default:
		return ErrSyncModeUnknown
	}
	return nil
}

// EffectiveSyncMode returns the configured sync mode, defaulting to
// transactional.
func (c Config) EffectiveSyncMode() string {
	if c.SyncMode == "" {
		return SyncModeTransactional
	}
	return c.SyncMode
}

// EffectiveRetryBaseDelay returns the backoff unit, defaulting to 100ms.
func (c Config) EffectiveRetryBaseDelay() time.Duration {
	if c.RetryBaseDelay == 0 {
		return DefaultRetryBaseDelay
	}
	return c.RetryBaseDelay
}
