package sqlite

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/easel/pkg/types"
)

var errInjected = errors.New("injected sync failure")

func TestSync_RemovedNodesLoseTheirRows(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	require.NoError(t, b.CreateCanvas(ctx, sampleCanvas("c1", "u1", "a", "b", "c")))

	nodes := sampleCanvas("c1", "u1", "a", "c").Nodes
	edges := []types.Edge{}
	_, err := b.UpdateCanvas(ctx, "u1", "c1", types.CanvasPatch{Nodes: &nodes, Edges: &edges}, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, countRows(t, b, "nodes", "c1"))
	assert.Equal(t, 4, countRows(t, b, "messages", "c1"))
	assert.Zero(t, countRows(t, b, "edges", "c1"))

	var ordinal int64
	require.NoError(t, b.db.QueryRow("SELECT ordinal FROM nodes WHERE canvas_id = 'c1' AND node_id = 'c'").Scan(&ordinal))
	assert.Equal(t, int64(1), ordinal, "ordinal follows document position")
}

func TestSync_TransactionalFailureRollsBackDocument(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	require.NoError(t, b.CreateCanvas(ctx, sampleCanvas("c1", "u1", "a")))

	b.syncFault = func(string) error { return errInjected }
	nodes := sampleCanvas("c1", "u1", "a", "b").Nodes
	_, err := b.UpdateCanvas(ctx, "u1", "c1", types.CanvasPatch{Nodes: &nodes}, 1)
	assert.True(t, errors.Is(err, errInjected))

	b.syncFault = nil
	got, err := b.GetCanvas(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, []string{"a"}, nodeIDsOf(got.Nodes))
}

func TestSync_DeferredFailureLeavesOrphansReadable(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t, deferredSync)
	require.NoError(t, b.CreateCanvas(ctx, sampleCanvas("c1", "u1", "a")))
	assert.Equal(t, 1, countRows(t, b, "nodes", "c1"))

	b.syncFault = func(string) error { return errInjected }
	nodes := sampleCanvas("c1", "u1", "a", "b").Nodes
	edges := sampleCanvas("c1", "u1", "a", "b").Edges
	updated, err := b.UpdateCanvas(ctx, "u1", "c1", types.CanvasPatch{Nodes: &nodes, Edges: &edges}, 1)
	require.NoError(t, err, "deferred sync failures do not fail the write")
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, 1, countRows(t, b, "nodes", "c1"))

	got, err := b.GetCanvas(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, nodeIDsOf(got.Nodes), "orphan document node appended after row-backed ones")
	require.Len(t, got.Nodes[1].Messages, 1)
	assert.NotNil(t, got.Nodes[1].Messages[0].Turn)
	require.Len(t, got.Edges, 1)

	b.syncFault = nil
	require.NoError(t, b.SyncCanvas(ctx, "u1", "c1"))
	assert.Equal(t, 2, countRows(t, b, "nodes", "c1"))
	assert.Equal(t, 1, countRows(t, b, "edges", "c1"))
}

func TestSync_DeferredCreateWithoutRows(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t, deferredSync)
	b.syncFault = func(string) error { return errInjected }

	require.NoError(t, b.CreateCanvas(ctx, sampleCanvas("c1", "u1", "a", "b")))
	assert.Zero(t, countRows(t, b, "nodes", "c1"))

	got, err := b.GetCanvas(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, nodeIDsOf(got.Nodes))

	list, err := b.ListCanvases(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Zero(t, list[0].NodeCount, "listing counts normalized rows")
}

func TestSync_MessagesWithoutIDsAreNumbered(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)

	cv := &types.Canvas{ID: "c1", UserID: "u1", Nodes: []types.Node{{
		ID:   "n1",
		Type: types.NodeTypeUserMessage,
		Messages: []types.MessageEntry{
			types.FlatEntry(types.Message{Role: types.RoleUser, Content: "hi"}),
			types.FlatEntry(types.Message{ID: "m2", Role: types.RoleAssistant, Content: "hello"}),
		},
	}}}
	require.NoError(t, b.CreateCanvas(ctx, cv))

	var ids []string
	rows, err := b.db.Query("SELECT message_id FROM messages WHERE canvas_id = 'c1' ORDER BY ordinal")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"n1_0", "m2"}, ids)

	got, err := b.GetCanvas(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, got.Nodes[0].Messages, 2)
	assert.Empty(t, got.Nodes[0].Messages[0].Flat.ID, "document entries echo back as saved")
}

func TestHydrate(t *testing.T) {
	turn := types.TurnEntry(types.Turn{
		ID:        "t1",
		User:      &types.TurnPart{Content: "q"},
		Assistant: &types.TurnPart{Content: "a"},
	})
	doc := types.Document{
		Nodes: []types.Node{
			{ID: "a", Type: types.NodeTypeBranch, Messages: []types.MessageEntry{turn}},
			{ID: "orphan", Type: types.NodeTypeContext},
		},
		Edges: []types.Edge{{ID: "e1", From: "a", To: "orphan"}},
	}

	tests := []struct {
		name  string
		rows  *normalizedRows
		check func(t *testing.T, nodes []types.Node, edges []types.Edge)
	}{
		{
			name: "rows matching the document keep the paired shape",
			rows: &normalizedRows{
				nodes: []types.Node{{ID: "a", Type: types.NodeTypeBranch}},
				messages: map[string][]types.Message{"a": {
					{ID: "t1_u", Role: types.RoleUser, Content: "q"},
					{ID: "t1_a", Role: types.RoleAssistant, Content: "a"},
				}},
			},
			check: func(t *testing.T, nodes []types.Node, edges []types.Edge) {
				require.Len(t, nodes, 2)
				require.Len(t, nodes[0].Messages, 1)
				assert.NotNil(t, nodes[0].Messages[0].Turn)
				assert.Equal(t, "orphan", nodes[1].ID)
				assert.NotNil(t, nodes[1].Messages)
				assert.Equal(t, doc.Edges, edges)
			},
		},
		{
			name: "rows ahead of the document win as flat messages",
			rows: &normalizedRows{
				nodes: []types.Node{{ID: "a", Type: types.NodeTypeBranch}},
				messages: map[string][]types.Message{"a": {
					{ID: "m9", Role: types.RoleUser, Content: "edited"},
				}},
			},
			check: func(t *testing.T, nodes []types.Node, _ []types.Edge) {
				require.Len(t, nodes[0].Messages, 1)
				require.NotNil(t, nodes[0].Messages[0].Flat)
				assert.Equal(t, "edited", nodes[0].Messages[0].Flat.Content)
			},
		},
		{
			name: "row-only nodes and edges come first",
			rows: &normalizedRows{
				nodes:    []types.Node{{ID: "z", Type: types.NodeTypeEntry}, {ID: "a", Type: types.NodeTypeBranch}},
				messages: map[string][]types.Message{},
				edges:    []types.Edge{{ID: "e0", From: "z", To: "a"}},
			},
			check: func(t *testing.T, nodes []types.Node, edges []types.Edge) {
				assert.Equal(t, []string{"z", "a", "orphan"}, nodeIDsOf(nodes))
				assert.Empty(t, nodes[0].Messages)
				assert.NotNil(t, nodes[1].Messages[0].Turn, "no rows falls back to document messages")
				require.Len(t, edges, 2)
				assert.Equal(t, "e0", edges[0].ID)
				assert.Equal(t, "e1", edges[1].ID)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, edges := hydrate(doc, tt.rows)
			tt.check(t, nodes, edges)
		})
	}
}
