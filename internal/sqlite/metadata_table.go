// This file implements the conversation_metadata table: per (canvas, user)
// counters upserted with every save.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/easel/pkg/types"
)

type metadataTable struct {
	backend *Backend
}

const metadataColumns = `canvas_id, user_id, save_count, conflict_count, node_count, edge_count, message_count,
    current_version, last_save_type, last_session_id, last_saved_at, backup_count, last_backup_id, last_backup_at`

func hydrateMetadata(row scanner) (*types.ConversationMetadata, error) {
	var (
		md                     types.ConversationMetadata
		nodes, edges, messages int64
	)
	err := row.Scan(&md.CanvasID, &md.UserID,
		&md.Analytics.SaveCount, &md.Analytics.ConflictCount, &nodes, &edges, &messages,
		&md.Versioning.CurrentVersion, &md.Versioning.LastSaveType, &md.Versioning.LastSessionID, &md.Versioning.LastSavedAt,
		&md.Backup.BackupCount, &md.Backup.LastBackupID, &md.Backup.LastBackupAt,
	)
	if err != nil {
		return nil, err
	}
	md.Analytics.NodeCount = int(nodes)
	md.Analytics.EdgeCount = int(edges)
	md.Analytics.MessageCount = int(messages)
	return &md, nil
}

func (mt *metadataTable) get(ctx context.Context, owner, canvasID string) (*types.ConversationMetadata, error) {
	c, err := mt.backend.conn(ctx)
	if err != nil {
		return nil, err
	}
	row := c.queryRow(ctx,
		"SELECT "+metadataColumns+" FROM conversation_metadata WHERE canvas_id = ? AND user_id = ?",
		canvasID, owner,
	)
	md, err := hydrateMetadata(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(classify(err), "sqlite store: get metadata %s", canvasID)
	}
	return md, nil
}

// upsert folds one accepted save into the metadata row. Counters accumulate;
// shape counts and the versioning summary take the latest save; the current
// version never moves backwards.
func (mt *metadataTable) upsert(ctx context.Context, u types.MetadataUpdate) error {
	if u.CanvasID == "" || u.UserID == "" {
		return types.ErrInvalidID
	}
	c, err := mt.backend.conn(ctx)
	if err != nil {
		return err
	}
	savedAt := u.SavedAt
	if savedAt.IsZero() {
		savedAt = mt.backend.now()
	}
	ts := types.FormatTime(savedAt)
	var backupCount int64
	backupAt := ""
	if u.BackupID != "" {
		backupCount = 1
		backupAt = ts
	}

	_, err = c.exec(ctx, `INSERT INTO conversation_metadata (`+metadataColumns+`)
VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (canvas_id, user_id) DO UPDATE SET
    save_count = conversation_metadata.save_count + 1,
    conflict_count = conversation_metadata.conflict_count + excluded.conflict_count,
    node_count = excluded.node_count,
    edge_count = excluded.edge_count,
    message_count = excluded.message_count,
    current_version = CASE
        WHEN excluded.current_version > conversation_metadata.current_version THEN excluded.current_version
        ELSE conversation_metadata.current_version
    END,
    last_save_type = excluded.last_save_type,
    last_session_id = excluded.last_session_id,
    last_saved_at = excluded.last_saved_at,
    backup_count = conversation_metadata.backup_count + excluded.backup_count,
    last_backup_id = CASE
        WHEN excluded.last_backup_id <> '' THEN excluded.last_backup_id
        ELSE conversation_metadata.last_backup_id
    END,
    last_backup_at = CASE
        WHEN excluded.last_backup_id <> '' THEN excluded.last_backup_at
        ELSE conversation_metadata.last_backup_at
    END`,
		u.CanvasID, u.UserID, boolToInt(u.ConflictResolved),
		int64(u.NodeCount), int64(u.EdgeCount), int64(u.MessageCount),
		u.Version, u.SaveType, u.SessionID, ts,
		backupCount, u.BackupID, backupAt,
	)
	return errors.Wrapf(err, "sqlite store: upsert metadata %s", u.CanvasID)
}

// Metadata operations of types.Store.

// GetMetadata returns the canvas's metadata row, or ErrNotFound.
func (b *Backend) GetMetadata(ctx context.Context, owner, canvasID string) (*types.ConversationMetadata, error) {
	return b.metadata.get(ctx, owner, canvasID)
}

// UpsertMetadata folds one save into the metadata row.
func (b *Backend) UpsertMetadata(ctx context.Context, u types.MetadataUpdate) error {
	return b.metadata.upsert(ctx, u)
}
