package types

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "empty backend returns ErrBackendEmpty",
			config:  Config{Backend: "", DataDir: "/tmp/data"},
			wantErr: ErrBackendEmpty,
		},
		{
			name:    "unknown backend returns ErrBackendUnknown",
			config:  Config{Backend: "mysql", DataDir: "/tmp/data"},
			wantErr: ErrBackendUnknown,
		},
		{
			name:    "valid sqlite config",
			config:  Config{Backend: "sqlite", DataDir: "/tmp/data"},
			wantErr: nil,
		},
		{
			name:    "sqlite with empty DataDir is valid at config level",
			config:  Config{Backend: "sqlite", DataDir: ""},
			wantErr: nil,
		},
		{
			name:    "postgres without dsn returns ErrDSNRequired",
			config:  Config{Backend: "postgres"},
			wantErr: ErrDSNRequired,
		},
		{
			name:    "postgres with dsn is valid",
			config:  Config{Backend: "postgres", DSN: "postgres://localhost/easel"},
			wantErr: nil,
		},
		{
			name:    "negative retries returns ErrRetriesInvalid",
			config:  Config{Backend: "sqlite", MaxRetries: -1},
			wantErr: ErrRetriesInvalid,
		},
		{
			name:    "negative retry delay returns ErrRetryDelayNegative",
			config:  Config{Backend: "sqlite", RetryBaseDelay: -time.Second},
			wantErr: ErrRetryDelayNegative,
		},
		{
			name:    "unknown sync mode returns ErrSyncModeUnknown",
			config:  Config{Backend: "sqlite", SyncMode: "eventually"},
			wantErr: ErrSyncModeUnknown,
		},
		{
			name:    "deferred sync mode is valid",
			config:  Config{Backend: "sqlite", SyncMode: SyncModeDeferred},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %v, got nil", tt.wantErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	if got := c.EffectiveSyncMode(); got != SyncModeTransactional {
		t.Errorf("EffectiveSyncMode = %q, want %q", got, SyncModeTransactional)
	}
	if got := c.EffectiveRetryBaseDelay(); got != 100*time.Millisecond {
		t.Errorf("EffectiveRetryBaseDelay = %v, want 100ms", got)
	}
}
