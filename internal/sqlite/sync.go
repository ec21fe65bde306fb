// This file keeps the normalized node, message and edge rows in step with
// the canvas document (normalization) and reassembles canvases from both
// shapes on read (hydration).
package sqlite

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/mesh-intelligence/easel/internal/metrics"
	"github.com/mesh-intelligence/easel/pkg/types"
)

func (b *Backend) syncTransactional() bool {
	return b.config.EffectiveSyncMode() == types.SyncModeTransactional
}

// deferredSync runs normalization after the document write has committed.
// In this mode a window exists where the two shapes disagree; hydration
// covers it by appending document nodes the rows do not have yet.
func (b *Backend) deferredSync(ctx context.Context, owner, canvasID string, doc types.Document) {
	if b.syncTransactional() {
		return
	}
	err := b.withTx(ctx, func(tx dbtx) error {
		return b.syncNormalized(ctx, tx, owner, canvasID, doc)
	})
	if err != nil {
		metrics.SyncFailures.Inc()
		log.Warn().Err(err).
			Str("canvas_id", canvasID).
			Msg("sqlite store: normalization sync failed; document is ahead of normalized rows")
	}
}

// syncNormalized reconciles the normalized rows of a canvas with doc: rows
// for node ids no longer in the document are deleted (their messages
// cascade), every present node is upserted with its position in the
// document, its messages are replaced with the flattened set, and the edge
// rows are replaced.
func (b *Backend) syncNormalized(ctx context.Context, tx dbtx, owner, canvasID string, doc types.Document) error {
	if b.syncFault != nil {
		if err := b.syncFault(canvasID); err != nil {
			return err
		}
	}

	existing, err := nodeIDs(ctx, tx, canvasID)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		present[n.ID] = true
	}
	removed := 0
	for _, id := range existing {
		if present[id] {
			continue
		}
		if _, err := tx.exec(ctx, "DELETE FROM nodes WHERE canvas_id = ? AND node_id = ?", canvasID, id); err != nil {
			return errors.Wrapf(err, "sqlite store: sync: delete node %s", id)
		}
		removed++
	}

	now := b.timestamp()
	for i, n := range doc.Nodes {
		if err := upsertNodeRow(ctx, tx, owner, canvasID, n, int64(i), now); err != nil {
			return err
		}
		if err := replaceMessages(ctx, tx, canvasID, n.ID, n.Messages); err != nil {
			return err
		}
	}

	if _, err := tx.exec(ctx, "DELETE FROM edges WHERE canvas_id = ?", canvasID); err != nil {
		return errors.Wrap(err, "sqlite store: sync: clear edges")
	}
	for i, e := range doc.Edges {
		if err := insertEdgeRow(ctx, tx, canvasID, e, int64(i)); err != nil {
			return err
		}
	}

	log.Debug().
		Str("canvas_id", canvasID).
		Int("nodes", len(doc.Nodes)).
		Int("removed", removed).
		Int("edges", len(doc.Edges)).
		Msg("sqlite store: normalized rows synced")
	return nil
}

func nodeIDs(ctx context.Context, c dbtx, canvasID string) ([]string, error) {
	rows, err := c.query(ctx, "SELECT node_id FROM nodes WHERE canvas_id = ?", canvasID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list node ids")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan node id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "sqlite store: list node ids")
}

func upsertNodeRow(ctx context.Context, c dbtx, owner, canvasID string, n types.Node, ordinal int64, now string) error {
	payload, err := encodeNode(n)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, `INSERT INTO nodes (canvas_id, node_id, user_id, node_type, payload, parent_node_id, forked_from_message_id, ordinal, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (canvas_id, node_id) DO UPDATE SET
    user_id = excluded.user_id,
    node_type = excluded.node_type,
    payload = excluded.payload,
    parent_node_id = excluded.parent_node_id,
    forked_from_message_id = excluded.forked_from_message_id,
    ordinal = excluded.ordinal,
    updated_at = excluded.updated_at`,
		canvasID, n.ID, owner, n.Type, payload, nullString(n.ParentNodeID), nullString(n.ForkedFromMessageID), ordinal, now,
	)
	return errors.Wrapf(err, "sqlite store: upsert node %s", n.ID)
}

// replaceMessages swaps the message rows of one node for the flattened
// entries.
func replaceMessages(ctx context.Context, c dbtx, canvasID, nodeID string, entries []types.MessageEntry) error {
	if _, err := c.exec(ctx, "DELETE FROM messages WHERE canvas_id = ? AND node_id = ?", canvasID, nodeID); err != nil {
		return errors.Wrapf(err, "sqlite store: clear messages of node %s", nodeID)
	}
	for i, m := range normalizeMessages(nodeID, entries) {
		_, err := c.exec(ctx,
			"INSERT INTO messages (canvas_id, node_id, ordinal, message_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)",
			canvasID, nodeID, int64(i), m.ID, m.Role, m.Content, m.Timestamp,
		)
		if err != nil {
			return errors.Wrapf(err, "sqlite store: insert message %s", m.ID)
		}
	}
	return nil
}

func insertEdgeRow(ctx context.Context, c dbtx, canvasID string, e types.Edge, ordinal int64) error {
	payload, err := encodeEdge(e)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, `INSERT INTO edges (canvas_id, edge_id, from_node_id, to_node_id, payload, ordinal)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (canvas_id, edge_id) DO UPDATE SET
    from_node_id = excluded.from_node_id,
    to_node_id = excluded.to_node_id,
    payload = excluded.payload,
    ordinal = excluded.ordinal`,
		canvasID, e.ID, e.From, e.To, payload, ordinal,
	)
	return errors.Wrapf(err, "sqlite store: insert edge %s", e.ID)
}

// normalizeMessages flattens entries and assigns nodeID_<ordinal> to flat
// messages that arrived without an id.
func normalizeMessages(nodeID string, entries []types.MessageEntry) []types.Message {
	msgs := types.FlattenMessages(entries)
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = nodeID + "_" + strconv.Itoa(i)
		}
	}
	return msgs
}

// normalizedRows is everything the normalized tables hold for one canvas.
type normalizedRows struct {
	nodes    []types.Node
	messages map[string][]types.Message
	edges    []types.Edge
}

func (b *Backend) readNormalized(ctx context.Context, c dbtx, canvasID string) (*normalizedRows, error) {
	out := &normalizedRows{messages: map[string][]types.Message{}}

	rows, err := c.query(ctx,
		"SELECT payload, parent_node_id, forked_from_message_id FROM nodes WHERE canvas_id = ? ORDER BY ordinal ASC, node_id ASC",
		canvasID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: read nodes")
	}
	for rows.Next() {
		var (
			payload        string
			parent, forked sql.NullString
		)
		if err := rows.Scan(&payload, &parent, &forked); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "sqlite store: scan node")
		}
		n, err := decodeNode(payload)
		if err != nil {
			rows.Close()
			return nil, err
		}
		n.ParentNodeID = stringPtr(parent)
		n.ForkedFromMessageID = stringPtr(forked)
		out.nodes = append(out.nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite store: read nodes")
	}

	mrows, err := c.query(ctx,
		"SELECT node_id, message_id, role, content, timestamp FROM messages WHERE canvas_id = ? ORDER BY node_id ASC, ordinal ASC",
		canvasID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: read messages")
	}
	for mrows.Next() {
		var (
			nodeID string
			m      types.Message
		)
		if err := mrows.Scan(&nodeID, &m.ID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			mrows.Close()
			return nil, errors.Wrap(err, "sqlite store: scan message")
		}
		out.messages[nodeID] = append(out.messages[nodeID], m)
	}
	mrows.Close()
	if err := mrows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite store: read messages")
	}

	erows, err := c.query(ctx,
		"SELECT payload FROM edges WHERE canvas_id = ? ORDER BY ordinal ASC, edge_id ASC",
		canvasID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: read edges")
	}
	defer erows.Close()
	for erows.Next() {
		var payload string
		if err := erows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan edge")
		}
		e, err := decodeEdge(payload)
		if err != nil {
			return nil, err
		}
		out.edges = append(out.edges, e)
	}
	return out, errors.Wrap(erows.Err(), "sqlite store: read edges")
}

// hydrate assembles the node and edge lists of a canvas. Normalized rows
// come first, in stored order. A node takes its messages from the message
// rows when it has any, keeping the document's entries when they flatten to
// the same rows so paired turns echo back unchanged; otherwise it takes the
// document's entries. Document nodes and edges without a row yet (orphans)
// are appended so sync lag never drops data from a read.
func hydrate(doc types.Document, rows *normalizedRows) ([]types.Node, []types.Edge) {
	docNodes := make(map[string]types.Node, len(doc.Nodes))
	for _, n := range doc.Nodes {
		docNodes[n.ID] = n
	}

	nodes := make([]types.Node, 0, len(doc.Nodes))
	seen := make(map[string]bool, len(doc.Nodes))
	for _, n := range rows.nodes {
		seen[n.ID] = true
		dn, inDoc := docNodes[n.ID]
		var docEntries []types.MessageEntry
		if inDoc {
			docEntries = dn.Messages
		}
		n.Messages = pickMessages(n.ID, docEntries, rows.messages[n.ID])
		nodes = append(nodes, n)
	}
	for _, dn := range doc.Nodes {
		if seen[dn.ID] {
			continue
		}
		seen[dn.ID] = true
		if dn.Messages == nil {
			dn.Messages = []types.MessageEntry{}
		}
		nodes = append(nodes, dn)
	}

	edges := make([]types.Edge, 0, len(doc.Edges))
	seenEdges := make(map[string]bool, len(doc.Edges))
	for _, e := range rows.edges {
		seenEdges[e.ID] = true
		edges = append(edges, e)
	}
	for _, e := range doc.Edges {
		if seenEdges[e.ID] {
			continue
		}
		seenEdges[e.ID] = true
		edges = append(edges, e)
	}
	return nodes, edges
}

func pickMessages(nodeID string, docEntries []types.MessageEntry, rowMsgs []types.Message) []types.MessageEntry {
	if len(rowMsgs) == 0 {
		if docEntries == nil {
			return []types.MessageEntry{}
		}
		return docEntries
	}
	if docEntries != nil && types.EqualMessages(normalizeMessages(nodeID, docEntries), rowMsgs) {
		return docEntries
	}
	return types.FlatEntries(rowMsgs)
}
