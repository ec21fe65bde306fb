package canvas

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/mesh-intelligence/easel/internal/metrics"
	"github.com/mesh-intelligence/easel/pkg/types"
)

// CreateBackup snapshots the stored canvas and then applies the owner's
// retention cap to it.
func (s *Service) CreateBackup(ctx context.Context, owner, canvasID, kind string) (bk *types.Backup, err error) {
	defer guard("create backup", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	if kind == "" {
		kind = types.BackupKindManual
	}
	if !types.IsValidBackupKind(kind) {
		return nil, errors.Wrapf(types.ErrInvalidData, "backup kind %q", kind)
	}
	cv, err := s.store.GetCanvas(ctx, owner, canvasID)
	if err != nil {
		return nil, err
	}
	bk, err = s.backup(ctx, cv, kind)
	if err != nil {
		return nil, err
	}
	if _, err := s.prune(ctx, owner, canvasID); err != nil {
		log.Warn().Err(err).Str("canvas_id", canvasID).Msg("canvas backup: prune failed after backup")
	}
	return bk, nil
}

// backup stores a snapshot of cv. SizeBytes is the length of the serialized
// document; compression at rest follows the owner's settings.
func (s *Service) backup(ctx context.Context, cv *types.Canvas, kind string) (*types.Backup, error) {
	settings, err := s.store.GetSettings(ctx, cv.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "canvas backup: settings")
	}
	doc := cv.Document()
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "canvas backup: encode document")
	}
	nodes, edges, msgs := doc.Counts()
	bk := &types.Backup{
		CanvasID:  cv.ID,
		UserID:    cv.UserID,
		Kind:      kind,
		Document:  doc,
		SizeBytes: int64(len(raw)),
		Version:   cv.Version,
		Metadata:  types.BackupMetadata{NodeCount: nodes, EdgeCount: edges, MessageCount: msgs},
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertBackup(ctx, bk, settings.CompressionEnabled); err != nil {
		return nil, errors.Wrap(err, "canvas backup: insert")
	}

	metrics.BackupsCreated.WithLabelValues(kind).Inc()
	metrics.BackupBytes.Observe(float64(bk.SizeBytes))
	log.Debug().
		Str("canvas_id", cv.ID).
		Str("backup_id", bk.ID).
		Int64("version", bk.Version).
		Int64("size_bytes", bk.SizeBytes).
		Bool("compressed", settings.CompressionEnabled).
		Msg("canvas backup: created")
	return bk, nil
}

// ListBackups returns up to limit backups of a canvas, newest first. An
// empty canvasID lists across the owner's canvases.
func (s *Service) ListBackups(ctx context.Context, owner, canvasID string, limit int) (out []types.BackupSummary, err error) {
	defer guard("list backups", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return s.store.ListBackups(ctx, owner, canvasID, limit)
}

// GetBackup returns one backup with its document.
func (s *Service) GetBackup(ctx context.Context, owner, backupID string) (bk *types.Backup, err error) {
	defer guard("get backup", &err)
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	return s.store.GetBackup(ctx, owner, backupID)
}

// Restore saves the document captured by a backup as a new version of its
// canvas and backs up the restore point. The canvas may have been deleted
// since; it is recreated.
func (s *Service) Restore(ctx context.Context, owner, canvasID, backupID string) (res types.SaveResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("restore backup: internal error: %v", r)
		}
		if err != nil && !res.Success && res.Error == "" {
			res = types.Failed(res.SessionID, err)
		}
	}()
	if err := requireOwner(owner); err != nil {
		return res, err
	}
	bk, err := s.store.GetBackup(ctx, owner, backupID)
	if err != nil {
		return res, err
	}
	if bk.CanvasID != canvasID {
		return res, types.ErrBackupNotFound
	}

	doc := bk.Document
	log.Debug().
		Str("canvas_id", canvasID).
		Str("backup_id", backupID).
		Int64("backup_version", bk.Version).
		Msg("canvas backup: restoring")
	return s.Save(ctx, owner, types.SaveRequest{
		ID:       canvasID,
		Title:    doc.Title,
		Nodes:    doc.Nodes,
		Edges:    doc.Edges,
		Note:     doc.Note,
		Viewport: doc.Viewport,
		Options: types.SaveOptions{
			SaveType:     types.SaveTypeManual,
			CreateBackup: true,
		},
	})
}

// PruneBackups deletes the oldest backups beyond the owner's maxBackupCount.
// An empty canvasID counts across all of the owner's canvases.
func (s *Service) PruneBackups(ctx context.Context, owner, canvasID string) (res types.OpResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("prune backups: internal error: %v", r)
		}
		if err != nil {
			res = types.OpFailed(err)
		}
	}()
	if err := requireOwner(owner); err != nil {
		return res, err
	}
	deleted, err := s.prune(ctx, owner, canvasID)
	if err != nil {
		return res, err
	}
	return types.OpResult{Success: true, Deleted: deleted}, nil
}

func (s *Service) prune(ctx context.Context, owner, canvasID string) (int64, error) {
	settings, err := s.store.GetSettings(ctx, owner)
	if err != nil {
		return 0, errors.Wrap(err, "canvas backup: settings")
	}
	deleted, err := s.store.PruneBackups(ctx, owner, canvasID, settings.MaxBackupCount)
	if err != nil {
		return 0, err
	}
	metrics.BackupsPruned.Add(float64(deleted))
	return deleted, nil
}
