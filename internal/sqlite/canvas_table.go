// This file implements the canvases table: the document half of the dual
// representation and the optimistic-concurrency gate on its version column.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/mesh-intelligence/easel/internal/metrics"
	"github.com/mesh-intelligence/easel/pkg/types"
)

type canvasTable struct {
	backend *Backend
}

const canvasColumns = "canvas_id, user_id, title, document, version, created_at, updated_at"

// canvasRow is a canvases row with its document decoded.
type canvasRow struct {
	id        string
	owner     string
	title     string
	doc       types.Document
	version   int64
	createdAt time.Time
	updatedAt time.Time
}

type scanner interface {
	Scan(dest ...any) error
}

func hydrateCanvasRow(row scanner) (*canvasRow, error) {
	var (
		r                    canvasRow
		docStr               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&r.id, &r.owner, &r.title, &docStr, &r.version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc, err := decodeDocument(docStr)
	if err != nil {
		return nil, errors.Wrapf(err, "canvas %s", r.id)
	}
	r.doc = doc
	r.createdAt = parseTime(createdAt)
	r.updatedAt = parseTime(updatedAt)
	return &r, nil
}

// canvas returns the row as an entity built from the document alone.
func (r *canvasRow) canvas() *types.Canvas {
	return &types.Canvas{
		ID:        r.id,
		UserID:    r.owner,
		Title:     r.title,
		Nodes:     r.doc.Nodes,
		Edges:     r.doc.Edges,
		Version:   r.version,
		Note:      r.doc.Note,
		Viewport:  r.doc.Viewport,
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
}

// load reads the canvas row. Returns ErrNotFound if the owner has no canvas
// with id.
func (ct *canvasTable) load(ctx context.Context, c dbtx, owner, id string) (*canvasRow, error) {
	row := c.queryRow(ctx,
		"SELECT "+canvasColumns+" FROM canvases WHERE canvas_id = ? AND user_id = ?",
		id, owner,
	)
	r, err := hydrateCanvasRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrNotFound
		}
		return nil, errors.Wrapf(classify(err), "sqlite store: load canvas %s", id)
	}
	return r, nil
}

// get returns the hydrated canvas: normalized rows first, document as the
// fallback for anything the rows do not carry yet.
func (ct *canvasTable) get(ctx context.Context, owner, id string) (*types.Canvas, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	c, err := ct.backend.conn(ctx)
	if err != nil {
		return nil, err
	}
	r, err := ct.load(ctx, c, owner, id)
	if err != nil {
		return nil, err
	}
	rows, err := ct.backend.readNormalized(ctx, c, id)
	if err != nil {
		return nil, err
	}

	out := r.canvas()
	out.Nodes, out.Edges = hydrate(r.doc, rows)
	return out, nil
}

func (ct *canvasTable) list(ctx context.Context, owner string) ([]types.CanvasSummary, error) {
	c, err := ct.backend.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := c.query(ctx, `SELECT c.canvas_id, c.title, c.version, c.created_at, c.updated_at,
    (SELECT COUNT(*) FROM nodes n WHERE n.canvas_id = c.canvas_id)
FROM canvases c
WHERE c.user_id = ?
ORDER BY c.updated_at DESC, c.canvas_id ASC`, owner)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list canvases")
	}
	defer rows.Close()

	out := []types.CanvasSummary{}
	for rows.Next() {
		var (
			s                    types.CanvasSummary
			createdAt, updatedAt string
		)
		if err := rows.Scan(&s.ID, &s.Title, &s.Version, &createdAt, &updatedAt, &s.NodeCount); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan canvas summary")
		}
		s.CreatedAt = parseTime(createdAt)
		s.UpdatedAt = parseTime(updatedAt)
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: list canvases")
}

// create inserts a new canvas row. An existing row with the same id, from
// any owner, makes the insert a no-op and is reported as ErrVersionConflict.
func (ct *canvasTable) create(ctx context.Context, cv *types.Canvas) error {
	if cv.ID == "" || cv.UserID == "" {
		return types.ErrInvalidID
	}
	if cv.Version < 1 {
		cv.Version = 1
	}
	b := ct.backend
	now := b.now().UTC()
	if cv.CreatedAt.IsZero() {
		cv.CreatedAt = now
	}
	cv.UpdatedAt = now

	doc := cv.Document()
	docStr, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	err = b.withTx(ctx, func(tx dbtx) error {
		res, err := tx.exec(ctx,
			"INSERT INTO canvases ("+canvasColumns+") VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (canvas_id) DO NOTHING",
			cv.ID, cv.UserID, cv.Title, docStr, cv.Version, types.FormatTime(cv.CreatedAt), types.FormatTime(cv.UpdatedAt),
		)
		if err != nil {
			return errors.Wrapf(err, "sqlite store: insert canvas %s", cv.ID)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.ErrVersionConflict
		}
		if b.syncTransactional() {
			return b.syncNormalized(ctx, tx, cv.UserID, cv.ID, doc)
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.deferredSync(ctx, cv.UserID, cv.ID, doc)
	return nil
}

// update is the optimistic-concurrency gate. The version check and the
// write are one conditional UPDATE; the preceding read only supplies the
// fields patch leaves unchanged.
func (ct *canvasTable) update(ctx context.Context, owner, id string, patch types.CanvasPatch, expected int64) (*types.Canvas, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	b := ct.backend
	var out *types.Canvas

	err := b.withTx(ctx, func(tx dbtx) error {
		r, err := ct.load(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		if r.version != expected {
			return types.ErrVersionConflict
		}

		cv := r.canvas()
		patch.Apply(cv)
		cv.Version = expected + 1
		cv.UpdatedAt = b.now().UTC()
		doc := cv.Document()
		docStr, err := encodeDocument(doc)
		if err != nil {
			return err
		}

		res, err := tx.exec(ctx,
			"UPDATE canvases SET title = ?, document = ?, version = ?, updated_at = ? WHERE canvas_id = ? AND user_id = ? AND version = ?",
			cv.Title, docStr, cv.Version, types.FormatTime(cv.UpdatedAt), id, owner, expected,
		)
		if err != nil {
			return errors.Wrapf(err, "sqlite store: update canvas %s", id)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.ErrVersionConflict
		}
		if b.syncTransactional() {
			if err := b.syncNormalized(ctx, tx, owner, id, doc); err != nil {
				return err
			}
		}
		out = cv
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.deferredSync(ctx, owner, id, out.Document())
	return out, nil
}

// remove deletes the canvas row. Nodes, messages, edges, metadata and
// threads go with it through foreign-key cascades; backups stay.
func (ct *canvasTable) remove(ctx context.Context, owner, id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	return ct.backend.withTx(ctx, func(tx dbtx) error {
		res, err := tx.exec(ctx, "DELETE FROM canvases WHERE canvas_id = ? AND user_id = ?", id, owner)
		if err != nil {
			return errors.Wrapf(err, "sqlite store: delete canvas %s", id)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.ErrNotFound
		}
		_, err = tx.exec(ctx,
			"UPDATE users SET active_canvas_id = NULL WHERE user_id = ? AND active_canvas_id = ?",
			owner, id,
		)
		return errors.Wrap(err, "sqlite store: clear active canvas")
	})
}

// resync rebuilds the normalized rows from the stored document.
func (ct *canvasTable) resync(ctx context.Context, owner, id string) error {
	b := ct.backend
	return b.withTx(ctx, func(tx dbtx) error {
		r, err := ct.load(ctx, tx, owner, id)
		if err != nil {
			return err
		}
		return b.syncNormalized(ctx, tx, owner, id, r.doc)
	})
}

// patchDocument applies mutate to the stored document with a compare-and-swap
// on version, bumping it. Node-level operations call it after their
// normalized write; failures are logged, not returned.
func (b *Backend) patchDocument(ctx context.Context, owner, canvasID, op string, mutate func(doc *types.Document) bool) {
	const attempts = 3
	var lastErr error
	for i := 0; i < attempts; i++ {
		done, err := b.tryPatchDocument(ctx, owner, canvasID, mutate)
		if err == nil && done {
			return
		}
		if err == nil {
			lastErr = types.ErrVersionConflict
			continue
		}
		lastErr = err
		if !errors.Is(err, types.ErrTransient) && !errors.Is(err, types.ErrVersionConflict) {
			break
		}
	}
	metrics.DocumentPatchFailures.Inc()
	log.Warn().Err(lastErr).
		Str("canvas_id", canvasID).
		Str("op", op).
		Msg("sqlite store: document patch failed; normalized rows are ahead of the document")
}

// tryPatchDocument reports done=false when another writer moved the version
// between the read and the conditional write.
func (b *Backend) tryPatchDocument(ctx context.Context, owner, canvasID string, mutate func(doc *types.Document) bool) (bool, error) {
	c, err := b.conn(ctx)
	if err != nil {
		return false, err
	}
	r, err := b.canvases.load(ctx, c, owner, canvasID)
	if err != nil {
		return false, err
	}
	doc := r.doc
	if !mutate(&doc) {
		return true, nil
	}
	doc.Version = r.version + 1
	docStr, err := encodeDocument(doc)
	if err != nil {
		return false, err
	}
	res, err := c.exec(ctx,
		"UPDATE canvases SET document = ?, version = ?, updated_at = ? WHERE canvas_id = ? AND user_id = ? AND version = ?",
		docStr, r.version+1, b.timestamp(), canvasID, owner, r.version,
	)
	if err != nil {
		return false, errors.Wrap(err, "sqlite store: patch document")
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Canvas operations of types.Store.

// GetCanvas returns the hydrated canvas.
func (b *Backend) GetCanvas(ctx context.Context, owner, id string) (*types.Canvas, error) {
	return b.canvases.get(ctx, owner, id)
}

// ListCanvases returns the owner's canvases, most recently updated first.
func (b *Backend) ListCanvases(ctx context.Context, owner string) ([]types.CanvasSummary, error) {
	return b.canvases.list(ctx, owner)
}

// CreateCanvas inserts a new canvas.
func (b *Backend) CreateCanvas(ctx context.Context, c *types.Canvas) error {
	return b.canvases.create(ctx, c)
}

// UpdateCanvas applies patch if the stored version equals expected.
func (b *Backend) UpdateCanvas(ctx context.Context, owner, id string, patch types.CanvasPatch, expected int64) (*types.Canvas, error) {
	return b.canvases.update(ctx, owner, id, patch, expected)
}

// DeleteCanvas removes a canvas and, by cascade, its normalized rows.
func (b *Backend) DeleteCanvas(ctx context.Context, owner, id string) error {
	return b.canvases.remove(ctx, owner, id)
}

// SyncCanvas re-runs normalization from the stored document.
func (b *Backend) SyncCanvas(ctx context.Context, owner, id string) error {
	return b.canvases.resync(ctx, owner, id)
}
