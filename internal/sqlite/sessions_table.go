// This file implements the sessions table: per-session save and error
// counters, recorded for every save attempt including failed ones.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/easel/pkg/types"
)

func (b *Backend) recordSession(ctx context.Context, a types.SessionActivity) error {
	if a.SessionID == "" || a.UserID == "" {
		return types.ErrInvalidID
	}
	c, err := b.conn(ctx)
	if err != nil {
		return err
	}
	at := a.At
	if at.IsZero() {
		at = b.now()
	}
	ts := types.FormatTime(at)
	var saves, errs int64
	if a.Succeeded {
		saves = 1
	} else {
		errs = 1
	}

	_, err = c.exec(ctx, `INSERT INTO sessions (session_id, user_id, canvas_id, started_at, last_activity_at, save_count, error_count, last_error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (session_id) DO UPDATE SET
    canvas_id = CASE WHEN excluded.canvas_id <> '' THEN excluded.canvas_id ELSE sessions.canvas_id END,
    last_activity_at = excluded.last_activity_at,
    save_count = sessions.save_count + excluded.save_count,
    error_count = sessions.error_count + excluded.error_count,
    last_error = CASE WHEN excluded.last_error <> '' THEN excluded.last_error ELSE sessions.last_error END`,
		a.SessionID, a.UserID, a.CanvasID, ts, ts, saves, errs, a.Error,
	)
	return errors.Wrapf(err, "sqlite store: record session %s", a.SessionID)
}

func (b *Backend) getSession(ctx context.Context, sessionID string) (*types.Session, error) {
	c, err := b.conn(ctx)
	if err != nil {
		return nil, err
	}
	var s types.Session
	err = c.queryRow(ctx,
		"SELECT session_id, user_id, canvas_id, save_count, error_count, last_error, started_at, last_activity_at FROM sessions WHERE session_id = ?",
		sessionID,
	).Scan(&s.ID, &s.UserID, &s.CanvasID, &s.SaveCount, &s.ErrorCount, &s.LastError, &s.StartedAt, &s.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(classify(err), "sqlite store: get session %s", sessionID)
	}
	return &s, nil
}

// RecordSession folds one save attempt into its session's counters.
func (b *Backend) RecordSession(ctx context.Context, a types.SessionActivity) error {
	return b.recordSession(ctx, a)
}

// GetSession returns a session's counters, or ErrNotFound.
func (b *Backend) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return b.getSession(ctx, sessionID)
}
