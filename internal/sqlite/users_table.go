// This file implements the users table: retention settings and the active
// canvas pointer. Users are created lazily by the first write naming them.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/easel/pkg/types"
)

func (b *Backend) getSettings(ctx context.Context, owner string) (types.Settings, error) {
	c, err := b.conn(ctx)
	if err != nil {
		return types.Settings{}, err
	}
	var (
		s                    types.Settings
		maxBackups           int64
		saveOnExit, compress int64
	)
	err = c.queryRow(ctx,
		"SELECT auto_save_interval_ms, max_backup_count, save_on_exit, compression_enabled FROM users WHERE user_id = ?",
		owner,
	).Scan(&s.AutoSaveIntervalMs, &maxBackups, &saveOnExit, &compress)
	if err == sql.ErrNoRows {
		return types.DefaultSettings(), nil
	}
	if err != nil {
		return types.Settings{}, errors.Wrapf(classify(err), "sqlite store: get settings for %s", owner)
	}
	s.MaxBackupCount = int(maxBackups)
	s.SaveOnExit = saveOnExit != 0
	s.CompressionEnabled = compress != 0
	return s, nil
}

func (b *Backend) putSettings(ctx context.Context, owner string, s types.Settings) error {
	if owner == "" {
		return types.ErrInvalidID
	}
	c, err := b.conn(ctx)
	if err != nil {
		return err
	}
	now := b.timestamp()
	_, err = c.exec(ctx, `INSERT INTO users (user_id, auto_save_interval_ms, max_backup_count, save_on_exit, compression_enabled, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    auto_save_interval_ms = excluded.auto_save_interval_ms,
    max_backup_count = excluded.max_backup_count,
    save_on_exit = excluded.save_on_exit,
    compression_enabled = excluded.compression_enabled,
    updated_at = excluded.updated_at`,
		owner, s.AutoSaveIntervalMs, int64(s.MaxBackupCount), boolToInt(s.SaveOnExit), boolToInt(s.CompressionEnabled), now, now,
	)
	return errors.Wrapf(err, "sqlite store: put settings for %s", owner)
}

func (b *Backend) setActiveCanvas(ctx context.Context, owner, canvasID string) error {
	if owner == "" {
		return types.ErrInvalidID
	}
	c, err := b.conn(ctx)
	if err != nil {
		return err
	}
	now := b.timestamp()
	_, err = c.exec(ctx, `INSERT INTO users (user_id, active_canvas_id, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    active_canvas_id = excluded.active_canvas_id,
    updated_at = excluded.updated_at`,
		owner, canvasID, now, now,
	)
	return errors.Wrapf(err, "sqlite store: set active canvas for %s", owner)
}

func (b *Backend) activeCanvas(ctx context.Context, owner string) (string, error) {
	c, err := b.conn(ctx)
	if err != nil {
		return "", err
	}
	var id sql.NullString
	err = c.queryRow(ctx, "SELECT active_canvas_id FROM users WHERE user_id = ?", owner).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(classify(err), "sqlite store: active canvas for %s", owner)
	}
	return id.String, nil
}

// GetSettings returns the owner's retention settings, or the defaults.
func (b *Backend) GetSettings(ctx context.Context, owner string) (types.Settings, error) {
	return b.getSettings(ctx, owner)
}

// PutSettings stores the owner's retention settings.
func (b *Backend) PutSettings(ctx context.Context, owner string, s types.Settings) error {
	return b.putSettings(ctx, owner, s)
}

// SetActiveCanvas points the owner's active conversation at canvasID.
func (b *Backend) SetActiveCanvas(ctx context.Context, owner, canvasID string) error {
	return b.setActiveCanvas(ctx, owner, canvasID)
}

// ActiveCanvas returns the owner's active canvas id, or "".
func (b *Backend) ActiveCanvas(ctx context.Context, owner string) (string, error) {
	return b.activeCanvas(ctx, owner)
}
