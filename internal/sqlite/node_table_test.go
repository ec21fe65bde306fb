package sqlite

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// storedDocument reads the canvas document as written, bypassing hydration.
func storedDocument(t *testing.T, b *Backend, owner, id string) (types.Document, int64) {
	t.Helper()
	r, err := b.canvases.load(context.Background(), dbtx{q: b.db, d: b.dialect}, owner, id)
	require.NoError(t, err)
	return r.doc, r.version
}

func TestNodeTable_AddNode(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	require.NoError(t, b.CreateCanvas(ctx, sampleCanvas("c1", "u1", "a")))

	parent := "a"
	n := types.Node{
		ID:           "fork",
		Type:         types.NodeTypeBranch,
		Position:     types.Position{X: 5, Y: 6},
		ParentNodeID: &parent,
		Messages: []types.MessageEntry{
			types.FlatEntry(types.Message{ID: "m1", Role: types.RoleUser, Content: "what if"}),
		},
	}
	require.NoError(t, b.AddNode(ctx, "u1", "c1", n))

	doc, version := storedDocument(t, b, "u1", "c1")
	assert.Equal(t, int64(2), version, "document patch bumps the version")
	assert.Equal(t, int64(2), doc.Version)
	assert.Equal(t, []string{"a", "fork"}, nodeIDsOf(doc.Nodes))

	got, err := b.GetCanvas(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "fork"}, nodeIDsOf(got.Nodes))
	require.NotNil(t, got.Nodes[1].ParentNodeID)
	assert.Equal(t, "a", *got.Nodes[1].ParentNodeID)
	assert.Equal(t, "what if", got.Nodes[1].Messages[0].Flat.Content)

	tests := []struct {
		name    string
		canvas  string
		node    types.Node
		wantErr error
	}{
		{"duplicate id", "c1", types.Node{ID: "a", Type: types.NodeTypeBranch}, types.ErrInvalidID},
		{"unknown type", "c1", types.Node{ID: "x", Type: "bogus"}, types.ErrInvalidData},
		{"missing canvas", "nope", types.Node{ID: "x", Type: types.NodeTypeBranch}, types.ErrNotFound},
		{"empty id", "c1", types.Node{Type: types.NodeTypeBranch}, types.ErrInvalidID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.AddNode(ctx, "u1", tt.canvas, tt.node)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestNodeTable_UpdateNode(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	require.NoError(t, b.CreateCanvas(ctx, sampleCanvas("c1", "u1", "a", "b")))

	pos := types.Position{X: 300, Y: 400}
	kind := types.NodeTypeContext
	got, err := b.UpdateNode(ctx, "u1", "c1", "b", types.NodePatch{Position: &pos, Type: &kind})
	require.NoError(t, err)
	assert.Equal(t, pos, got.Position)
	assert.Equal(t, types.NodeTypeContext, got.Type)
	require.Len(t, got.Messages, 1)
	assert.NotNil(t, got.Messages[0].Turn)

	doc, version := storedDocument(t, b, "u1", "c1")
	assert.Equal(t, int64(2), version)
	assert.Equal(t, pos, doc.Nodes[1].Position)

	_, err = b.UpdateNode(ctx, "u1", "c1", "missing", types.NodePatch{Position: &pos})
	assert.Equal(t, types.ErrNotFound, err)

	bogus := "bogus"
	_, err = b.UpdateNode(ctx, "u1", "c1", "a", types.NodePatch{Type: &bogus})
	assert.True(t, errors.Is(err, types.ErrInvalidData))
}

func TestNodeTable_RemoveNode(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)

	cv := sampleCanvas("c1", "u1", "a", "b", "c")
	parent := "b"
	cv.Nodes[2].ParentNodeID = &parent
	require.NoError(t, b.CreateCanvas(ctx, cv))

	require.NoError(t, b.RemoveNode(ctx, "u1", "c1", "b"))

	got, err := b.GetCanvas(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, nodeIDsOf(got.Nodes))
	assert.Empty(t, got.Edges, "edges touching the node go with it")
	require.NotNil(t, got.Nodes[1].ParentNodeID)
	assert.Equal(t, "b", *got.Nodes[1].ParentNodeID, "forks keep a dangling parent")

	assert.Equal(t, 2, countRows(t, b, "nodes", "c1"))
	assert.Equal(t, 4, countRows(t, b, "messages", "c1"))
	assert.Zero(t, countRows(t, b, "edges", "c1"))

	doc, version := storedDocument(t, b, "u1", "c1")
	assert.Equal(t, int64(2), version)
	assert.Empty(t, doc.Edges)

	assert.Equal(t, types.ErrNotFound, b.RemoveNode(ctx, "u1", "c1", "b"))
}

func TestNodeTable_UpdateNodeMessages(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	require.NoError(t, b.CreateCanvas(ctx, sampleCanvas("c1", "u1", "a")))

	msgs := []types.MessageEntry{
		types.FlatEntry(types.Message{ID: "m1", Role: types.RoleUser, Content: "one"}),
		types.FlatEntry(types.Message{ID: "m2", Role: types.RoleAssistant, Content: "two"}),
		types.FlatEntry(types.Message{ID: "m3", Role: types.RoleUser, Content: "three"}),
	}
	require.NoError(t, b.UpdateNodeMessages(ctx, "u1", "c1", "a", msgs))
	assert.Equal(t, 3, countRows(t, b, "messages", "c1"))

	got, err := b.GetCanvas(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, got.Nodes[0].Messages, 3)
	assert.Equal(t, "three", got.Nodes[0].Messages[2].Flat.Content)

	require.NoError(t, b.UpdateNodeMessages(ctx, "u1", "c1", "a", nil))
	got, err = b.GetCanvas(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Empty(t, got.Nodes[0].Messages)
	assert.Zero(t, countRows(t, b, "messages", "c1"))
}

func TestNodeTable_OpsMaterializeOrphans(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t, deferredSync)
	b.syncFault = func(string) error { return errInjected }
	require.NoError(t, b.CreateCanvas(ctx, sampleCanvas("c1", "u1", "a", "b")))
	b.syncFault = nil
	require.Zero(t, countRows(t, b, "nodes", "c1"))

	pos := types.Position{X: 1, Y: 2}
	_, err := b.UpdateNode(ctx, "u1", "c1", "b", types.NodePatch{Position: &pos})
	require.NoError(t, err)
	assert.Equal(t, 1, countRows(t, b, "nodes", "c1"))
	assert.Equal(t, 2, countRows(t, b, "messages", "c1"))

	got, err := b.GetCanvas(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, nodeIDsOf(got.Nodes))
}

func TestNodeTable_StaleSaveAfterNodeOpConflicts(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	require.NoError(t, b.CreateCanvas(ctx, sampleCanvas("c1", "u1", "a")))
	require.NoError(t, b.AddNode(ctx, "u1", "c1", types.Node{ID: "b", Type: types.NodeTypeEntry}))

	nodes := sampleCanvas("c1", "u1", "a").Nodes
	_, err := b.UpdateCanvas(ctx, "u1", "c1", types.CanvasPatch{Nodes: &nodes}, 1)
	assert.Equal(t, types.ErrVersionConflict, err)
}
