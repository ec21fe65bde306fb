// This file implements node-level operations. Each writes the normalized
// rows in a transaction, then patches the canvas document so the two shapes
// converge without a full save.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/mesh-intelligence/easel/pkg/types"
)

type nodeTable struct {
	backend *Backend
}

// readNodeRow returns the normalized node, or ErrNotFound.
func readNodeRow(ctx context.Context, c dbtx, canvasID, nodeID string) (types.Node, error) {
	var (
		payload        string
		parent, forked sql.NullString
	)
	err := c.queryRow(ctx,
		"SELECT payload, parent_node_id, forked_from_message_id FROM nodes WHERE canvas_id = ? AND node_id = ?",
		canvasID, nodeID,
	).Scan(&payload, &parent, &forked)
	if err == sql.ErrNoRows {
		return types.Node{}, types.ErrNotFound
	}
	if err != nil {
		return types.Node{}, errors.Wrapf(classify(err), "sqlite store: read node %s", nodeID)
	}
	n, err := decodeNode(payload)
	if err != nil {
		return types.Node{}, err
	}
	n.ParentNodeID = stringPtr(parent)
	n.ForkedFromMessageID = stringPtr(forked)
	return n, nil
}

func readNodeMessages(ctx context.Context, c dbtx, canvasID, nodeID string) ([]types.Message, error) {
	rows, err := c.query(ctx,
		"SELECT message_id, role, content, timestamp FROM messages WHERE canvas_id = ? AND node_id = ? ORDER BY ordinal ASC",
		canvasID, nodeID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: read node messages")
	}
	defer rows.Close()
	var out []types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan message")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "sqlite store: read node messages")
}

func nextNodeOrdinal(ctx context.Context, c dbtx, canvasID string) (int64, error) {
	var ord int64
	err := c.queryRow(ctx, "SELECT COALESCE(MAX(ordinal), -1) + 1 FROM nodes WHERE canvas_id = ?", canvasID).Scan(&ord)
	return ord, errors.Wrap(classify(err), "sqlite store: next node ordinal")
}

// ensureNodeRow returns the normalized node, materializing it from the
// document when only the document has it yet.
func (nt *nodeTable) ensureNodeRow(ctx context.Context, tx dbtx, owner string, canvas *canvasRow, nodeID string) (types.Node, error) {
	n, err := readNodeRow(ctx, tx, canvas.id, nodeID)
	if err == nil || !errors.Is(err, types.ErrNotFound) {
		return n, err
	}
	idx := types.NodeIndex(canvas.doc.Nodes, nodeID)
	if idx < 0 {
		return types.Node{}, types.ErrNotFound
	}
	dn := canvas.doc.Nodes[idx]
	ord, err := nextNodeOrdinal(ctx, tx, canvas.id)
	if err != nil {
		return types.Node{}, err
	}
	if err := upsertNodeRow(ctx, tx, owner, canvas.id, dn, ord, nt.backend.timestamp()); err != nil {
		return types.Node{}, err
	}
	if err := replaceMessages(ctx, tx, canvas.id, dn.ID, dn.Messages); err != nil {
		return types.Node{}, err
	}
	dn.Messages = nil
	return dn, nil
}

func (nt *nodeTable) add(ctx context.Context, owner, canvasID string, n types.Node) error {
	if canvasID == "" || n.ID == "" {
		return types.ErrInvalidID
	}
	if !types.IsValidNodeType(n.Type) {
		return errors.Wrapf(types.ErrInvalidData, "node type %q", n.Type)
	}
	b := nt.backend
	err := b.withTx(ctx, func(tx dbtx) error {
		if _, err := b.canvases.load(ctx, tx, owner, canvasID); err != nil {
			return err
		}
		if _, err := readNodeRow(ctx, tx, canvasID, n.ID); err == nil {
			return errors.Wrapf(types.ErrInvalidID, "node %s already exists", n.ID)
		} else if !errors.Is(err, types.ErrNotFound) {
			return err
		}
		ord, err := nextNodeOrdinal(ctx, tx, canvasID)
		if err != nil {
			return err
		}
		if err := upsertNodeRow(ctx, tx, owner, canvasID, n, ord, b.timestamp()); err != nil {
			return err
		}
		return replaceMessages(ctx, tx, canvasID, n.ID, n.Messages)
	})
	if err != nil {
		return err
	}

	if n.Messages == nil {
		n.Messages = []types.MessageEntry{}
	}
	b.patchDocument(ctx, owner, canvasID, "add node", func(doc *types.Document) bool {
		if idx := types.NodeIndex(doc.Nodes, n.ID); idx >= 0 {
			doc.Nodes[idx] = n
		} else {
			doc.Nodes = append(doc.Nodes, n)
		}
		return true
	})
	return nil
}

func (nt *nodeTable) update(ctx context.Context, owner, canvasID, nodeID string, patch types.NodePatch) (*types.Node, error) {
	if canvasID == "" || nodeID == "" {
		return nil, types.ErrInvalidID
	}
	if patch.Type != nil && !types.IsValidNodeType(*patch.Type) {
		return nil, errors.Wrapf(types.ErrInvalidData, "node type %q", *patch.Type)
	}
	b := nt.backend
	var out types.Node
	err := b.withTx(ctx, func(tx dbtx) error {
		canvas, err := b.canvases.load(ctx, tx, owner, canvasID)
		if err != nil {
			return err
		}
		n, err := nt.ensureNodeRow(ctx, tx, owner, canvas, nodeID)
		if err != nil {
			return err
		}
		patch.Apply(&n)
		payload, err := encodeNode(n)
		if err != nil {
			return err
		}
		_, err = tx.exec(ctx,
			"UPDATE nodes SET node_type = ?, payload = ?, parent_node_id = ?, forked_from_message_id = ?, updated_at = ? WHERE canvas_id = ? AND node_id = ?",
			n.Type, payload, nullString(n.ParentNodeID), nullString(n.ForkedFromMessageID), b.timestamp(), canvasID, nodeID,
		)
		if err != nil {
			return errors.Wrapf(err, "sqlite store: update node %s", nodeID)
		}
		msgs, err := readNodeMessages(ctx, tx, canvasID, nodeID)
		if err != nil {
			return err
		}
		var docEntries []types.MessageEntry
		if idx := types.NodeIndex(canvas.doc.Nodes, nodeID); idx >= 0 {
			docEntries = canvas.doc.Nodes[idx].Messages
		}
		n.Messages = pickMessages(nodeID, docEntries, msgs)
		out = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.patchDocument(ctx, owner, canvasID, "update node", func(doc *types.Document) bool {
		idx := types.NodeIndex(doc.Nodes, nodeID)
		if idx < 0 {
			return false
		}
		patch.Apply(&doc.Nodes[idx])
		return true
	})
	return &out, nil
}

// remove deletes the node row (its messages cascade) and the edges touching
// it. Nodes forked from it keep their parentNodeId.
func (nt *nodeTable) remove(ctx context.Context, owner, canvasID, nodeID string) error {
	if canvasID == "" || nodeID == "" {
		return types.ErrInvalidID
	}
	b := nt.backend
	err := b.withTx(ctx, func(tx dbtx) error {
		canvas, err := b.canvases.load(ctx, tx, owner, canvasID)
		if err != nil {
			return err
		}
		res, err := tx.exec(ctx, "DELETE FROM nodes WHERE canvas_id = ? AND node_id = ?", canvasID, nodeID)
		if err != nil {
			return errors.Wrapf(err, "sqlite store: delete node %s", nodeID)
		}
		if n, _ := res.RowsAffected(); n == 0 && types.NodeIndex(canvas.doc.Nodes, nodeID) < 0 {
			return types.ErrNotFound
		}
		_, err = tx.exec(ctx,
			"DELETE FROM edges WHERE canvas_id = ? AND (from_node_id = ? OR to_node_id = ?)",
			canvasID, nodeID, nodeID,
		)
		return errors.Wrap(err, "sqlite store: delete node edges")
	})
	if err != nil {
		return err
	}

	b.patchDocument(ctx, owner, canvasID, "remove node", func(doc *types.Document) bool {
		idx := types.NodeIndex(doc.Nodes, nodeID)
		changed := idx >= 0
		if changed {
			doc.Nodes = append(doc.Nodes[:idx:idx], doc.Nodes[idx+1:]...)
		}
		edges := doc.Edges[:0:0]
		for _, e := range doc.Edges {
			if e.From == nodeID || e.To == nodeID {
				changed = true
				continue
			}
			edges = append(edges, e)
		}
		doc.Edges = edges
		return changed
	})
	return nil
}

func (nt *nodeTable) updateMessages(ctx context.Context, owner, canvasID, nodeID string, msgs []types.MessageEntry) error {
	if canvasID == "" || nodeID == "" {
		return types.ErrInvalidID
	}
	b := nt.backend
	err := b.withTx(ctx, func(tx dbtx) error {
		canvas, err := b.canvases.load(ctx, tx, owner, canvasID)
		if err != nil {
			return err
		}
		if _, err := nt.ensureNodeRow(ctx, tx, owner, canvas, nodeID); err != nil {
			return err
		}
		return replaceMessages(ctx, tx, canvasID, nodeID, msgs)
	})
	if err != nil {
		return err
	}

	if msgs == nil {
		msgs = []types.MessageEntry{}
	}
	b.patchDocument(ctx, owner, canvasID, "update node messages", func(doc *types.Document) bool {
		idx := types.NodeIndex(doc.Nodes, nodeID)
		if idx < 0 {
			return false
		}
		doc.Nodes[idx].Messages = msgs
		return true
	})
	return nil
}

// Node operations of types.Store.

// AddNode appends a node to a canvas.
func (b *Backend) AddNode(ctx context.Context, owner, canvasID string, n types.Node) error {
	return b.nodes.add(ctx, owner, canvasID, n)
}

// UpdateNode applies patch to one node and returns it.
func (b *Backend) UpdateNode(ctx context.Context, owner, canvasID, nodeID string, patch types.NodePatch) (*types.Node, error) {
	return b.nodes.update(ctx, owner, canvasID, nodeID, patch)
}

// RemoveNode deletes a node and the edges touching it.
func (b *Backend) RemoveNode(ctx context.Context, owner, canvasID, nodeID string) error {
	return b.nodes.remove(ctx, owner, canvasID, nodeID)
}

// UpdateNodeMessages replaces a node's messages.
func (b *Backend) UpdateNodeMessages(ctx context.Context, owner, canvasID, nodeID string, msgs []types.MessageEntry) error {
	return b.nodes.updateMessages(ctx, owner, canvasID, nodeID, msgs)
}
