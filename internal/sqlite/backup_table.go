// This file implements the backups table: immutable snapshots of canvas
// documents, optionally zstd-compressed at rest, with retention pruning.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// Compression column values.
const (
	compressionNone = "none"
	compressionZstd = "zstd"
)

// DefaultBackupListLimit applies when a listing asks for no limit.
const DefaultBackupListLimit = 20

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

type backupTable struct {
	backend *Backend
}

const backupColumns = "backup_id, canvas_id, user_id, backup_type, document, compression, size_bytes, version, node_count, edge_count, message_count, created_at"

func hydrateBackup(row scanner) (*types.Backup, error) {
	var (
		bk                  types.Backup
		stored, compression string
		nodes, edges, msgs  int64
		createdAt           string
	)
	err := row.Scan(&bk.ID, &bk.CanvasID, &bk.UserID, &bk.Kind, &stored, &compression,
		&bk.SizeBytes, &bk.Version, &nodes, &edges, &msgs, &createdAt)
	if err != nil {
		return nil, err
	}
	raw, err := unpackDocument(stored, compression)
	if err != nil {
		return nil, errors.Wrapf(err, "backup %s", bk.ID)
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "backup %s", bk.ID)
	}
	bk.Document = doc
	bk.Metadata = types.BackupMetadata{NodeCount: int(nodes), EdgeCount: int(edges), MessageCount: int(msgs)}
	bk.CreatedAt = parseTime(createdAt)
	return &bk, nil
}

func packDocument(raw string, compress bool) (string, string) {
	if !compress {
		return raw, compressionNone
	}
	packed := zstdEncoder.EncodeAll([]byte(raw), nil)
	return base64.StdEncoding.EncodeToString(packed), compressionZstd
}

func unpackDocument(stored, compression string) (string, error) {
	switch compression {
	case "", compressionNone:
		return stored, nil
	case compressionZstd:
		packed, err := base64.StdEncoding.DecodeString(stored)
		if err != nil {
			return "", errors.Wrap(err, "decode compressed document")
		}
		raw, err := zstdDecoder.DecodeAll(packed, nil)
		if err != nil {
			return "", errors.Wrap(err, "decompress document")
		}
		return string(raw), nil
	}
	return "", errors.Errorf("unknown compression %q", compression)
}

func (bt *backupTable) insert(ctx context.Context, bk *types.Backup, compress bool) error {
	if bk.CanvasID == "" || bk.UserID == "" {
		return types.ErrInvalidID
	}
	if !types.IsValidBackupKind(bk.Kind) {
		return errors.Wrapf(types.ErrInvalidData, "backup kind %q", bk.Kind)
	}
	b := bt.backend
	if bk.ID == "" {
		bk.ID = newID()
	}
	if bk.CreatedAt.IsZero() {
		bk.CreatedAt = b.now().UTC()
	}

	raw, err := encodeDocument(bk.Document)
	if err != nil {
		return err
	}
	if bk.SizeBytes == 0 {
		bk.SizeBytes = int64(len(raw))
	}
	stored, compression := packDocument(raw, compress)

	c, err := b.conn(ctx)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx,
		"INSERT INTO backups ("+backupColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		bk.ID, bk.CanvasID, bk.UserID, bk.Kind, stored, compression, bk.SizeBytes, bk.Version,
		int64(bk.Metadata.NodeCount), int64(bk.Metadata.EdgeCount), int64(bk.Metadata.MessageCount),
		types.FormatTime(bk.CreatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "sqlite store: insert backup %s", bk.ID)
	}
	return nil
}

func (bt *backupTable) get(ctx context.Context, owner, id string) (*types.Backup, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	c, err := bt.backend.conn(ctx)
	if err != nil {
		return nil, err
	}
	row := c.queryRow(ctx, "SELECT "+backupColumns+" FROM backups WHERE backup_id = ? AND user_id = ?", id, owner)
	bk, err := hydrateBackup(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrBackupNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(classify(err), "sqlite store: get backup %s", id)
	}
	return bk, nil
}

// backupScope returns the WHERE clause and args selecting an owner's backups,
// optionally narrowed to one canvas.
func backupScope(owner, canvasID string) (string, []any) {
	if canvasID == "" {
		return "user_id = ?", []any{owner}
	}
	return "user_id = ? AND canvas_id = ?", []any{owner, canvasID}
}

func (bt *backupTable) list(ctx context.Context, owner, canvasID string, limit int) ([]types.BackupSummary, error) {
	if limit <= 0 {
		limit = DefaultBackupListLimit
	}
	c, err := bt.backend.conn(ctx)
	if err != nil {
		return nil, err
	}
	where, args := backupScope(owner, canvasID)
	rows, err := c.query(ctx,
		"SELECT backup_id, backup_type, created_at, size_bytes, version FROM backups WHERE "+where+
			" ORDER BY created_at DESC, backup_id DESC LIMIT ?",
		append(args, limit)...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list backups")
	}
	defer rows.Close()

	out := []types.BackupSummary{}
	for rows.Next() {
		var s types.BackupSummary
		if err := rows.Scan(&s.ID, &s.Kind, &s.CreatedAt, &s.SizeBytes, &s.Version); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan backup")
		}
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: list backups")
}

// prune deletes the oldest backups, by creation time, beyond keep.
func (bt *backupTable) prune(ctx context.Context, owner, canvasID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	b := bt.backend
	var deleted int64
	err := b.withTx(ctx, func(tx dbtx) error {
		where, args := backupScope(owner, canvasID)
		var total int64
		if err := tx.queryRow(ctx, "SELECT COUNT(*) FROM backups WHERE "+where, args...).Scan(&total); err != nil {
			return errors.Wrap(classify(err), "sqlite store: count backups")
		}
		excess := total - int64(keep)
		if excess <= 0 {
			return nil
		}
		res, err := tx.exec(ctx,
			"DELETE FROM backups WHERE backup_id IN (SELECT backup_id FROM backups WHERE "+where+
				" ORDER BY created_at ASC, backup_id ASC LIMIT ?)",
			append(args, excess)...,
		)
		if err != nil {
			return errors.Wrap(err, "sqlite store: prune backups")
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		log.Debug().
			Str("user_id", owner).
			Str("canvas_id", canvasID).
			Int64("deleted", deleted).
			Int("keep", keep).
			Msg("sqlite store: pruned backups")
	}
	return deleted, nil
}

// Backup operations of types.Store.

// InsertBackup stores a snapshot.
func (b *Backend) InsertBackup(ctx context.Context, bk *types.Backup, compress bool) error {
	return b.backups.insert(ctx, bk, compress)
}

// GetBackup returns one snapshot with its document.
func (b *Backend) GetBackup(ctx context.Context, owner, id string) (*types.Backup, error) {
	return b.backups.get(ctx, owner, id)
}

// ListBackups returns snapshot summaries, newest first.
func (b *Backend) ListBackups(ctx context.Context, owner, canvasID string, limit int) ([]types.BackupSummary, error) {
	return b.backups.list(ctx, owner, canvasID, limit)
}

// PruneBackups deletes the oldest snapshots beyond keep.
func (b *Backend) PruneBackups(ctx context.Context, owner, canvasID string, keep int) (int64, error) {
	return b.backups.prune(ctx, owner, canvasID, keep)
}
