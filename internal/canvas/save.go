package canvas

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/mesh-intelligence/easel/internal/metrics"
	"github.com/mesh-intelligence/easel/pkg/types"
)

// Save writes one logical save of req for owner.
//
// The write is a conditional update against the stored version. When
// another writer got there first, the incoming nodes and edges are merged
// with the latest stored ones and the write is retried at the new version,
// backing off 2^attempt times the base delay. Exhausting the budget returns
// ErrVersionConflictUnresolved; nothing is overwritten or dropped silently.
// A backup is taken when requested, or on the first save of a canvas that
// already has more than one node.
//
// The returned result is populated on failure too.
func (s *Service) Save(ctx context.Context, owner string, req types.SaveRequest) (res types.SaveResult, err error) {
	start := time.Now()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = newID()
	}
	saveType := req.Options.Type()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("canvas save: internal error: %v", r)
		}
		metrics.SaveDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			return
		}
		res = types.Failed(sessionID, err)
		metrics.Saves.WithLabelValues(saveType, "failure").Inc()
		log.Error().Err(err).
			Str("canvas_id", req.ID).
			Str("session_id", sessionID).
			Msg("canvas save: failed")
		if owner != "" {
			s.recordSession(ctx, types.SessionActivity{
				SessionID: sessionID,
				UserID:    owner,
				CanvasID:  req.ID,
				Error:     err.Error(),
			})
		}
	}()

	if err := requireOwner(owner); err != nil {
		return res, err
	}
	if err := s.check("save request", req); err != nil {
		return res, err
	}

	existing, err := s.store.GetCanvas(ctx, owner, req.ID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return res, errors.Wrap(err, "canvas save: load")
	}
	if err != nil {
		existing = nil
	}
	takeBackup := req.Options.CreateBackup || (existing == nil && len(req.Nodes) > 1)

	saved, conflict, err := s.write(ctx, owner, req, existing)
	if err != nil {
		return res, err
	}

	savedAt := saved.UpdatedAt
	if savedAt.IsZero() {
		savedAt = s.now()
	}
	res = types.SaveResult{
		Success:          true,
		Version:          saved.Version,
		SessionID:        sessionID,
		ConflictResolved: conflict,
		Timestamp:        types.FormatTime(savedAt),
	}

	if takeBackup {
		bk, err := s.backup(ctx, saved, saveType)
		if err != nil {
			log.Warn().Err(err).Str("canvas_id", saved.ID).Msg("canvas save: backup failed after save")
		} else {
			res.BackupID = bk.ID
			if _, err := s.prune(ctx, owner, saved.ID); err != nil {
				log.Warn().Err(err).Str("canvas_id", saved.ID).Msg("canvas save: prune failed after backup")
			}
		}
	}

	doc := saved.Document()
	nodes, edges, msgs := doc.Counts()
	if err := s.store.UpsertMetadata(ctx, types.MetadataUpdate{
		CanvasID:         saved.ID,
		UserID:           owner,
		Version:          saved.Version,
		SaveType:         saveType,
		SessionID:        sessionID,
		ConflictResolved: conflict,
		NodeCount:        nodes,
		EdgeCount:        edges,
		MessageCount:     msgs,
		BackupID:         res.BackupID,
		SavedAt:          savedAt,
	}); err != nil {
		log.Warn().Err(err).Str("canvas_id", saved.ID).Msg("canvas save: metadata update failed")
	}
	if err := s.store.SetActiveCanvas(ctx, owner, saved.ID); err != nil {
		log.Warn().Err(err).Str("canvas_id", saved.ID).Msg("canvas save: active canvas update failed")
	}
	s.recordSession(ctx, types.SessionActivity{
		SessionID: sessionID,
		UserID:    owner,
		CanvasID:  saved.ID,
		Succeeded: true,
		At:        savedAt,
	})
	s.invalidate(ctx, owner, saved.ID)

	metrics.Saves.WithLabelValues(saveType, "success").Inc()
	log.Debug().
		Str("canvas_id", saved.ID).
		Int64("version", saved.Version).
		Bool("conflict_resolved", conflict).
		Str("backup_id", res.BackupID).
		Msg("canvas save: saved")
	return res, nil
}

// write runs the optimistic write loop and reports whether a merge was
// needed. current is the stored canvas the caller saw, nil if none.
func (s *Service) write(ctx context.Context, owner string, req types.SaveRequest, current *types.Canvas) (*types.Canvas, bool, error) {
	nodes, edges := req.Nodes, req.Edges
	conflict := false
	if current != nil && req.Options.BaseVersion > 0 && req.Options.BaseVersion != current.Version {
		nodes, edges = s.merger.Merge(req.Nodes, req.Edges, current.Nodes, current.Edges)
		conflict = true
	}

	retries := s.retries(req.Options)
	for attempt := 0; ; attempt++ {
		saved, err := s.attempt(ctx, owner, req, current, nodes, edges)
		if err == nil {
			return saved, conflict, nil
		}
		cause, ok := retryCause(err)
		if !ok {
			return nil, conflict, errors.Wrap(err, "canvas save: write")
		}
		if cause == causeConflict {
			metrics.SaveConflicts.Inc()
		}
		if attempt >= retries {
			if cause == causeConflict {
				return nil, conflict, errors.Wrapf(types.ErrVersionConflictUnresolved, "canvas %s after %d attempts", req.ID, attempt+1)
			}
			return nil, conflict, errors.Wrapf(err, "canvas save: giving up after %d attempts", attempt+1)
		}

		metrics.SaveRetries.WithLabelValues(cause).Inc()
		log.Debug().
			Str("canvas_id", req.ID).
			Str("cause", cause).
			Int("attempt", attempt+1).
			Msg("canvas save: retrying write")
		if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
			return nil, conflict, errors.Wrap(err, "canvas save: backoff")
		}
		if cause != causeConflict {
			continue
		}

		latest, err := s.store.GetCanvas(ctx, owner, req.ID)
		switch {
		case errors.Is(err, types.ErrNotFound):
			// Deleted under us, or the id belongs to another owner. The
			// next attempt inserts; a foreign row makes it conflict again.
			current = nil
			nodes, edges = req.Nodes, req.Edges
		case err != nil:
			return nil, conflict, errors.Wrap(err, "canvas save: reload after conflict")
		default:
			current = latest
			nodes, edges = s.merger.Merge(req.Nodes, req.Edges, latest.Nodes, latest.Edges)
			conflict = true
		}
	}
}

// attempt is one conditional write: an insert at version 1 when no row was
// seen, otherwise an update gated on current.Version.
func (s *Service) attempt(ctx context.Context, owner string, req types.SaveRequest, current *types.Canvas, nodes []types.Node, edges []types.Edge) (*types.Canvas, error) {
	if current == nil {
		cv := &types.Canvas{
			ID:       req.ID,
			UserID:   owner,
			Title:    req.Title,
			Nodes:    nodes,
			Edges:    edges,
			Version:  1,
			Note:     req.Note,
			Viewport: req.Viewport,
		}
		if err := s.store.CreateCanvas(ctx, cv); err != nil {
			return nil, err
		}
		return cv, nil
	}
	patch := types.CanvasPatch{
		Title:    &req.Title,
		Nodes:    &nodes,
		Edges:    &edges,
		Note:     &req.Note,
		Viewport: req.Viewport,
	}
	return s.store.UpdateCanvas(ctx, owner, req.ID, patch, current.Version)
}

func (s *Service) recordSession(ctx context.Context, a types.SessionActivity) {
	if err := s.store.RecordSession(ctx, a); err != nil {
		log.Warn().Err(err).Str("session_id", a.SessionID).Msg("canvas save: session update failed")
	}
}
