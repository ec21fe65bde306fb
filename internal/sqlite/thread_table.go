// This file implements conversation threads and their checkpoints. A
// checkpoint is a nodes, edges and viewport snapshot versioned per thread;
// its nodes are also normalized into thread_nodes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// checkpointAttempts bounds retries when two writers race for the same
// checkpoint version.
const checkpointAttempts = 3

type threadTable struct {
	backend *Backend
}

func (tt *threadTable) requireThread(ctx context.Context, c dbtx, owner, threadID string) error {
	var one int
	err := c.queryRow(ctx,
		"SELECT 1 FROM conversation_threads WHERE thread_id = ? AND user_id = ?",
		threadID, owner,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return types.ErrThreadNotFound
	}
	return errors.Wrap(classify(err), "sqlite store: look up thread")
}

func (tt *threadTable) create(ctx context.Context, owner, canvasID, title string) (*types.ConversationThread, error) {
	if owner == "" || canvasID == "" {
		return nil, types.ErrInvalidID
	}
	b := tt.backend
	now := b.now().UTC()
	th := &types.ConversationThread{
		ID:        newID(),
		CanvasID:  canvasID,
		UserID:    owner,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := b.withTx(ctx, func(tx dbtx) error {
		if _, err := b.canvases.load(ctx, tx, owner, canvasID); err != nil {
			return err
		}
		_, err := tx.exec(ctx,
			"INSERT INTO conversation_threads (thread_id, canvas_id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			th.ID, th.CanvasID, th.UserID, th.Title, types.FormatTime(now), types.FormatTime(now),
		)
		return errors.Wrap(err, "sqlite store: insert thread")
	})
	if err != nil {
		return nil, err
	}
	return th, nil
}

func (tt *threadTable) list(ctx context.Context, owner, canvasID string) ([]types.ConversationThread, error) {
	c, err := tt.backend.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := c.query(ctx, `SELECT t.thread_id, t.canvas_id, t.user_id, t.title, t.created_at, t.updated_at,
    (SELECT COUNT(*) FROM thread_checkpoints cp WHERE cp.thread_id = t.thread_id)
FROM conversation_threads t
WHERE t.user_id = ? AND t.canvas_id = ?
ORDER BY t.created_at ASC, t.thread_id ASC`, owner, canvasID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list threads")
	}
	defer rows.Close()

	out := []types.ConversationThread{}
	for rows.Next() {
		var (
			th                   types.ConversationThread
			createdAt, updatedAt string
		)
		if err := rows.Scan(&th.ID, &th.CanvasID, &th.UserID, &th.Title, &createdAt, &updatedAt, &th.CheckpointCount); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan thread")
		}
		th.CreatedAt = parseTime(createdAt)
		th.UpdatedAt = parseTime(updatedAt)
		out = append(out, th)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: list threads")
}

// remove deletes a thread; checkpoints and their nodes cascade.
func (tt *threadTable) remove(ctx context.Context, owner, threadID string) error {
	c, err := tt.backend.conn(ctx)
	if err != nil {
		return err
	}
	res, err := c.exec(ctx, "DELETE FROM conversation_threads WHERE thread_id = ? AND user_id = ?", threadID, owner)
	if err != nil {
		return errors.Wrapf(err, "sqlite store: delete thread %s", threadID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrThreadNotFound
	}
	return nil
}

// createCheckpoint assigns the next version inside the INSERT itself. Two
// writers can still compute the same version on PostgreSQL; the unique
// (thread_id, version) constraint rejects the loser, which retries.
func (tt *threadTable) createCheckpoint(ctx context.Context, owner, threadID string, in types.CheckpointInput) (*types.ThreadCheckpoint, error) {
	nodes := in.Nodes
	if nodes == nil {
		nodes = []types.Node{}
	}
	edges := in.Edges
	if edges == nil {
		edges = []types.Edge{}
	}
	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return nil, errors.Wrap(err, "encode checkpoint nodes")
	}
	edgesJSON, err := json.Marshal(edges)
	if err != nil {
		return nil, errors.Wrap(err, "encode checkpoint edges")
	}
	viewport, err := encodeJSON(in.Viewport)
	if err != nil {
		return nil, errors.Wrap(err, "encode checkpoint viewport")
	}

	var cp *types.ThreadCheckpoint
	for attempt := 0; attempt < checkpointAttempts; attempt++ {
		cp, err = tt.insertCheckpoint(ctx, owner, threadID, in, string(nodesJSON), string(edgesJSON), viewport)
		if err == nil || !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	cp.Nodes = nodes
	cp.Edges = edges
	return cp, nil
}

func (tt *threadTable) insertCheckpoint(ctx context.Context, owner, threadID string, in types.CheckpointInput, nodesJSON, edgesJSON string, viewport any) (*types.ThreadCheckpoint, error) {
	b := tt.backend
	now := b.now().UTC()
	cp := &types.ThreadCheckpoint{
		ID:        newID(),
		ThreadID:  threadID,
		Label:     in.Label,
		Viewport:  in.Viewport,
		CreatedAt: now,
	}
	err := b.withTx(ctx, func(tx dbtx) error {
		if err := tt.requireThread(ctx, tx, owner, threadID); err != nil {
			return err
		}
		_, err := tx.exec(ctx, `INSERT INTO thread_checkpoints (checkpoint_id, thread_id, version, label, nodes, edges, viewport, created_at)
SELECT ?, ?, COALESCE(MAX(version), 0) + 1, ?, ?, ?, ?, ?
FROM thread_checkpoints WHERE thread_id = ?`,
			cp.ID, threadID, in.Label, nodesJSON, edgesJSON, viewport, types.FormatTime(now), threadID,
		)
		if err != nil {
			return errors.Wrap(err, "sqlite store: insert checkpoint")
		}
		if err := tx.queryRow(ctx, "SELECT version FROM thread_checkpoints WHERE checkpoint_id = ?", cp.ID).Scan(&cp.Version); err != nil {
			return errors.Wrap(classify(err), "sqlite store: read checkpoint version")
		}

		seen := make(map[string]bool, len(in.Nodes))
		for _, n := range in.Nodes {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			_, err := tx.exec(ctx,
				"INSERT INTO thread_nodes (checkpoint_id, node_id, node_type, message_count) VALUES (?, ?, ?, ?)",
				cp.ID, n.ID, n.Type, int64(len(types.FlattenMessages(n.Messages))),
			)
			if err != nil {
				return errors.Wrapf(err, "sqlite store: insert thread node %s", n.ID)
			}
		}

		_, err = tx.exec(ctx, "UPDATE conversation_threads SET updated_at = ? WHERE thread_id = ?", types.FormatTime(now), threadID)
		return errors.Wrap(err, "sqlite store: touch thread")
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

const checkpointColumns = "cp.checkpoint_id, cp.thread_id, cp.version, cp.label, cp.nodes, cp.edges, cp.viewport, cp.created_at"

func hydrateCheckpoint(row scanner) (*types.ThreadCheckpoint, error) {
	var (
		cp                   types.ThreadCheckpoint
		nodesJSON, edgesJSON string
		viewport             sql.NullString
		createdAt            string
	)
	if err := row.Scan(&cp.ID, &cp.ThreadID, &cp.Version, &cp.Label, &nodesJSON, &edgesJSON, &viewport, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(nodesJSON), &cp.Nodes); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s nodes", cp.ID)
	}
	if err := json.Unmarshal([]byte(edgesJSON), &cp.Edges); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s edges", cp.ID)
	}
	if viewport.Valid {
		var vp types.Viewport
		if err := json.Unmarshal([]byte(viewport.String), &vp); err != nil {
			return nil, errors.Wrapf(err, "decode checkpoint %s viewport", cp.ID)
		}
		cp.Viewport = &vp
	}
	cp.CreatedAt = parseTime(createdAt)
	return &cp, nil
}

func (tt *threadTable) listCheckpoints(ctx context.Context, owner, threadID string) ([]types.ThreadCheckpoint, error) {
	c, err := tt.backend.conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := tt.requireThread(ctx, c, owner, threadID); err != nil {
		return nil, err
	}
	rows, err := c.query(ctx,
		"SELECT "+checkpointColumns+" FROM thread_checkpoints cp WHERE cp.thread_id = ? ORDER BY cp.version ASC",
		threadID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list checkpoints")
	}
	defer rows.Close()

	out := []types.ThreadCheckpoint{}
	for rows.Next() {
		cp, err := hydrateCheckpoint(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan checkpoint")
		}
		out = append(out, *cp)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: list checkpoints")
}

func (tt *threadTable) getCheckpoint(ctx context.Context, owner, threadID, checkpointID string) (*types.ThreadCheckpoint, error) {
	c, err := tt.backend.conn(ctx)
	if err != nil {
		return nil, err
	}
	row := c.queryRow(ctx, `SELECT `+checkpointColumns+`
FROM thread_checkpoints cp
JOIN conversation_threads t ON t.thread_id = cp.thread_id
WHERE cp.checkpoint_id = ? AND cp.thread_id = ? AND t.user_id = ?`,
		checkpointID, threadID, owner,
	)
	cp, err := hydrateCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(classify(err), "sqlite store: get checkpoint %s", checkpointID)
	}
	return cp, nil
}

// threadNodes returns the normalized node rows of a checkpoint.
func (tt *threadTable) threadNodes(ctx context.Context, checkpointID string) ([]types.ThreadNode, error) {
	c, err := tt.backend.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := c.query(ctx,
		"SELECT checkpoint_id, node_id, node_type, message_count FROM thread_nodes WHERE checkpoint_id = ? ORDER BY node_id ASC",
		checkpointID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list thread nodes")
	}
	defer rows.Close()
	var out []types.ThreadNode
	for rows.Next() {
		var (
			tn    types.ThreadNode
			count int64
		)
		if err := rows.Scan(&tn.CheckpointID, &tn.NodeID, &tn.Type, &count); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan thread node")
		}
		tn.MessageCount = int(count)
		out = append(out, tn)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: list thread nodes")
}

// Thread operations of types.Store.

// CreateThread starts a thread on one of the owner's canvases.
func (b *Backend) CreateThread(ctx context.Context, owner, canvasID, title string) (*types.ConversationThread, error) {
	return b.threads.create(ctx, owner, canvasID, title)
}

// ListThreads returns a canvas's threads, oldest first.
func (b *Backend) ListThreads(ctx context.Context, owner, canvasID string) ([]types.ConversationThread, error) {
	return b.threads.list(ctx, owner, canvasID)
}

// DeleteThread removes a thread and its checkpoints.
func (b *Backend) DeleteThread(ctx context.Context, owner, threadID string) error {
	return b.threads.remove(ctx, owner, threadID)
}

// CreateCheckpoint snapshots in at the thread's next version.
func (b *Backend) CreateCheckpoint(ctx context.Context, owner, threadID string, in types.CheckpointInput) (*types.ThreadCheckpoint, error) {
	return b.threads.createCheckpoint(ctx, owner, threadID, in)
}

// ListCheckpoints returns a thread's checkpoints by version.
func (b *Backend) ListCheckpoints(ctx context.Context, owner, threadID string) ([]types.ThreadCheckpoint, error) {
	return b.threads.listCheckpoints(ctx, owner, threadID)
}

// GetCheckpoint returns one checkpoint of a thread.
func (b *Backend) GetCheckpoint(ctx context.Context, owner, threadID, checkpointID string) (*types.ThreadCheckpoint, error) {
	return b.threads.getCheckpoint(ctx, owner, threadID, checkpointID)
}

// ThreadNodes returns the normalized nodes of a checkpoint.
func (b *Backend) ThreadNodes(ctx context.Context, checkpointID string) ([]types.ThreadNode, error) {
	return b.threads.threadNodes(ctx, checkpointID)
}
