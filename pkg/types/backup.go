// Backup entity: an immutable point-in-time snapshot of a canvas document.

package types

import "time"

// Backup kind constants.
const (
	BackupKindAuto      = "auto"
	BackupKindManual    = "manual"
	BackupKindScheduled = "scheduled"
)

// IsValidBackupKind reports whether k is a known backup kind.
func IsValidBackupKind(k string) bool {
	switch k {
	case BackupKindAuto, BackupKindManual, BackupKindScheduled:
		return true
	}
	return false
}

// BackupMetadata records the shape of the captured document.
type BackupMetadata struct {
	NodeCount    int `json:"nodeCount"`
	EdgeCount    int `json:"edgeCount"`
	MessageCount int `json:"messageCount"`
}

// Backup is a full copy of a canvas document at capture time. Backups are
// never updated; retention pruning is the only thing that deletes them.
type Backup struct {
	ID       string `json:"id"`
	CanvasID string `json:"canvasId"`
	UserID   string `json:"userId"`

	// Kind is one of the BackupKind constants.
	Kind string `json:"backupType"`

	Document Document `json:"document"`

	// SizeBytes is the byte length of the serialized document, before any
	// compression applied at rest.
	SizeBytes int64 `json:"sizeBytes"`

	// Version is the canvas version captured.
	Version int64 `json:"version"`

	Metadata  BackupMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}

// BackupSummary is one entry of a backup listing.
type BackupSummary struct {
	ID        string `json:"id"`
	Kind      string `json:"backupType"`
	CreatedAt string `json:"createdAt"`
	SizeBytes int64  `json:"sizeBytes"`
	Version   int64  `json:"version"`
}

// Summary returns the listing shape of b with an ISO-8601 timestamp.
func (b *Backup) Summary() BackupSummary {
	return BackupSummary{
		ID:        b.ID,
		Kind:      b.Kind,
		CreatedAt: FormatTime(b.CreatedAt),
		SizeBytes: b.SizeBytes,
		Version:   b.Version,
	}
}
