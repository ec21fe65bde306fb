// Conversation metadata, per-user settings and session activity.

package types

import "time"

// AnalyticsSummary holds per-canvas counters.
type AnalyticsSummary struct {
	SaveCount     int64 `json:"saveCount"`
	ConflictCount int64 `json:"conflictCount"`
	NodeCount     int   `json:"nodeCount"`
	EdgeCount     int   `json:"edgeCount"`
	MessageCount  int   `json:"messageCount"`
}

// VersioningSummary describes the last accepted write.
type VersioningSummary struct {
	CurrentVersion int64  `json:"currentVersion"`
	LastSaveType   string `json:"lastSaveType"`
	LastSessionID  string `json:"lastSessionId"`
	LastSavedAt    string `json:"lastSavedAt"`
}

// BackupInfo describes the most recent backup.
type BackupInfo struct {
	BackupCount  int64  `json:"backupCount"`
	LastBackupID string `json:"lastBackupId,omitempty"`
	LastBackupAt string `json:"lastBackupAt,omitempty"`
}

// ConversationMetadata aggregates analytics, versioning and backup state for
// one (canvas, user) pair. It is upserted with every save.
type ConversationMetadata struct {
	CanvasID   string            `json:"canvasId"`
	UserID     string            `json:"userId"`
	Analytics  AnalyticsSummary  `json:"analytics"`
	Versioning VersioningSummary `json:"versioning"`
	Backup     BackupInfo        `json:"backup"`
}

// MetadataUpdate is the delta applied to ConversationMetadata after a save.
type MetadataUpdate struct {
	CanvasID         string
	UserID           string
	Version          int64
	SaveType         string
	SessionID        string
	ConflictResolved bool
	NodeCount        int
	EdgeCount        int
	MessageCount     int
	BackupID         string
	SavedAt          time.Time
}

// Settings is the per-user retention configuration read before any pruning
// decision.
type Settings struct {
	AutoSaveIntervalMs int64 `json:"autoSaveIntervalMs" validate:"gte=1000"`
	MaxBackupCount     int   `json:"maxBackupCount" validate:"gte=1,lte=1000"`
	SaveOnExit         bool  `json:"saveOnExit"`
	CompressionEnabled bool  `json:"compressionEnabled"`
}

// Default settings for users who never stored their own.
const (
	DefaultAutoSaveIntervalMs = 30000
	DefaultMaxBackupCount     = 10
)

// DefaultSettings returns the settings applied to users without a stored row.
func DefaultSettings() Settings {
	return Settings{
		AutoSaveIntervalMs: DefaultAutoSaveIntervalMs,
		MaxBackupCount:     DefaultMaxBackupCount,
		SaveOnExit:         true,
		CompressionEnabled: false,
	}
}

// SessionActivity is one save attempt's contribution to a session's counters.
type SessionActivity struct {
	SessionID string
	UserID    string
	CanvasID  string
	Succeeded bool
	Error     string
	At        time.Time
}

// Session is the stored activity record for a save session.
type Session struct {
	ID             string `json:"id"`
	UserID         string `json:"userId"`
	CanvasID       string `json:"canvasId"`
	SaveCount      int64  `json:"saveCount"`
	ErrorCount     int64  `json:"errorCount"`
	LastError      string `json:"lastError,omitempty"`
	StartedAt      string `json:"startedAt"`
	LastActivityAt string `json:"lastActivityAt"`
}
