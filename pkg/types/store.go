package types

import "context"

// CanvasStore owns canvases in both storage shapes: the JSON document on the
// canvas row and the normalized node, message and edge rows.
type CanvasStore interface {
	// GetCanvas returns the hydrated canvas. Returns ErrNotFound if no canvas
	// with id belongs to owner.
	GetCanvas(ctx context.Context, owner, id string) (*Canvas, error)

	// ListCanvases returns the owner's canvases, most recently updated first.
	ListCanvases(ctx context.Context, owner string) ([]CanvasSummary, error)

	// CreateCanvas inserts c at c.Version. Returns ErrVersionConflict if a
	// canvas with the same id already exists.
	CreateCanvas(ctx context.Context, c *Canvas) error

	// UpdateCanvas applies patch and advances the version to expected+1 in a
	// single conditional write. Returns ErrVersionConflict if the stored
	// version is not expected, ErrNotFound if the canvas is missing.
	UpdateCanvas(ctx context.Context, owner, id string, patch CanvasPatch, expected int64) (*Canvas, error)

	// DeleteCanvas removes the canvas; nodes, messages and edges cascade.
	DeleteCanvas(ctx context.Context, owner, id string) error

	// SyncCanvas re-runs normalization from the stored document.
	SyncCanvas(ctx context.Context, owner, id string) error
}

// NodeStore mutates single nodes. Each call writes the normalized rows and
// then patches the embedded document.
type NodeStore interface {
	AddNode(ctx context.Context, owner, canvasID string, n Node) error
	UpdateNode(ctx context.Context, owner, canvasID, nodeID string, patch NodePatch) (*Node, error)
	RemoveNode(ctx context.Context, owner, canvasID, nodeID string) error
	UpdateNodeMessages(ctx context.Context, owner, canvasID, nodeID string, msgs []MessageEntry) error
}

// BackupStore persists immutable canvas snapshots.
type BackupStore interface {
	// InsertBackup stores b. When compress is set the document is stored
	// zstd-compressed; SizeBytes is unaffected.
	InsertBackup(ctx context.Context, b *Backup, compress bool) error

	// GetBackup returns ErrBackupNotFound if the owner has no such backup.
	GetBackup(ctx context.Context, owner, id string) (*Backup, error)

	// ListBackups returns at most limit backups, newest first. An empty
	// canvasID lists across all of the owner's canvases.
	ListBackups(ctx context.Context, owner, canvasID string, limit int) ([]BackupSummary, error)

	// PruneBackups deletes the oldest backups beyond keep and returns how
	// many were deleted. An empty canvasID counts across the owner.
	PruneBackups(ctx context.Context, owner, canvasID string, keep int) (int64, error)
}

// MetadataStore holds per-canvas metadata, per-user settings and the active
// canvas pointer, and per-session activity.
type MetadataStore interface {
	GetMetadata(ctx context.Context, owner, canvasID string) (*ConversationMetadata, error)
	UpsertMetadata(ctx context.Context, u MetadataUpdate) error

	// GetSettings returns DefaultSettings for users without a stored row.
	GetSettings(ctx context.Context, owner string) (Settings, error)
	PutSettings(ctx context.Context, owner string, s Settings) error

	SetActiveCanvas(ctx context.Context, owner, canvasID string) error
	ActiveCanvas(ctx context.Context, owner string) (string, error)

	RecordSession(ctx context.Context, a SessionActivity) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
}

// ThreadStore holds conversation threads and their checkpoints. Missing
// threads and checkpoints are reported as ErrThreadNotFound and
// ErrCheckpointNotFound.
type ThreadStore interface {
	CreateThread(ctx context.Context, owner, canvasID, title string) (*ConversationThread, error)
	ListThreads(ctx context.Context, owner, canvasID string) ([]ConversationThread, error)
	DeleteThread(ctx context.Context, owner, threadID string) error

	// CreateCheckpoint stores a snapshot at the thread's next version.
	CreateCheckpoint(ctx context.Context, owner, threadID string, in CheckpointInput) (*ThreadCheckpoint, error)
	ListCheckpoints(ctx context.Context, owner, threadID string) ([]ThreadCheckpoint, error)
	GetCheckpoint(ctx context.Context, owner, threadID, checkpointID string) (*ThreadCheckpoint, error)
}

// Store is the full persistence surface a backend provides.
type Store interface {
	CanvasStore
	NodeStore
	BackupStore
	MetadataStore
	ThreadStore

	// Close releases backend resources. Idempotent.
	Close() error
}

// Merger reconciles a stale write with the stored state.
type Merger interface {
	Merge(localNodes []Node, localEdges []Edge, remoteNodes []Node, remoteEdges []Edge) ([]Node, []Edge)
}

// MetadataCache caches ConversationMetadata by (owner, canvas). Misses
// return (nil, nil).
type MetadataCache interface {
	Get(ctx context.Context, owner, canvasID string) (*ConversationMetadata, error)
	Set(ctx context.Context, md *ConversationMetadata) error
	Invalidate(ctx context.Context, owner, canvasID string) error
}
