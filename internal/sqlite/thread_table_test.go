package sqlite

import (
	"context"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/easel/pkg/types"
)

func TestThreadTable_CreateAndList(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	require.NoError(t, b.CreateCanvas(ctx, sampleCanvas("c1", "u1", "a")))

	_, err := b.CreateThread(ctx, "u1", "missing", "x")
	assert.Equal(t, types.ErrNotFound, err)
	_, err = b.CreateThread(ctx, "u2", "c1", "x")
	assert.Equal(t, types.ErrNotFound, err, "threads attach to the owner's canvases only")

	th, err := b.CreateThread(ctx, "u1", "c1", "what-if")
	require.NoError(t, err)
	assert.NotEmpty(t, th.ID)
	assert.Equal(t, "what-if", th.Title)

	_, err = b.CreateCheckpoint(ctx, "u1", th.ID, types.CheckpointInput{Label: "first"})
	require.NoError(t, err)

	list, err := b.ListThreads(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, th.ID, list[0].ID)
	assert.Equal(t, 1, list[0].CheckpointCount)
}

func TestThreadTable_CheckpointVersions(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	cv := sampleCanvas("c1", "u1", "a", "b")
	require.NoError(t, b.CreateCanvas(ctx, cv))
	th, err := b.CreateThread(ctx, "u1", "c1", "t")
	require.NoError(t, err)

	in := types.CheckpointInput{
		Label:    "snapshot",
		Nodes:    cv.Nodes,
		Edges:    cv.Edges,
		Viewport: &types.Viewport{Zoom: 2},
	}
	var cps []*types.ThreadCheckpoint
	for i := 0; i < 3; i++ {
		cp, err := b.CreateCheckpoint(ctx, "u1", th.ID, in)
		require.NoError(t, err)
		cps = append(cps, cp)
	}
	for i, cp := range cps {
		assert.Equal(t, int64(i+1), cp.Version)
	}

	got, err := b.GetCheckpoint(ctx, "u1", th.ID, cps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "snapshot", got.Label)
	assert.Equal(t, cv.Nodes, got.Nodes)
	assert.Equal(t, cv.Edges, got.Edges)
	require.NotNil(t, got.Viewport)
	assert.Equal(t, 2.0, got.Viewport.Zoom)

	list, err := b.ListCheckpoints(ctx, "u1", th.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, int64(3), list[2].Version)

	tn, err := b.ThreadNodes(ctx, cps[0].ID)
	require.NoError(t, err)
	require.Len(t, tn, 2)
	assert.Equal(t, "a", tn[0].NodeID)
	assert.Equal(t, types.NodeTypeBranch, tn[0].Type)
	assert.Equal(t, 2, tn[0].MessageCount)
}

func TestThreadTable_NotFound(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	require.NoError(t, b.CreateCanvas(ctx, sampleCanvas("c1", "u1", "a")))
	th, err := b.CreateThread(ctx, "u1", "c1", "t")
	require.NoError(t, err)

	_, err = b.CreateCheckpoint(ctx, "u2", th.ID, types.CheckpointInput{})
	assert.Equal(t, types.ErrThreadNotFound, err)
	_, err = b.ListCheckpoints(ctx, "u1", "missing")
	assert.Equal(t, types.ErrThreadNotFound, err)

	_, err = b.GetCheckpoint(ctx, "u1", th.ID, "missing")
	assert.Equal(t, types.ErrCheckpointNotFound, err)
	assert.True(t, errors.Is(err, types.ErrThreadNotFound))

	assert.Equal(t, types.ErrThreadNotFound, b.DeleteThread(ctx, "u2", th.ID))
}

func TestThreadTable_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	cv := sampleCanvas("c1", "u1", "a")
	require.NoError(t, b.CreateCanvas(ctx, cv))

	th, err := b.CreateThread(ctx, "u1", "c1", "t")
	require.NoError(t, err)
	cp, err := b.CreateCheckpoint(ctx, "u1", th.ID, types.CheckpointInput{Nodes: cv.Nodes})
	require.NoError(t, err)

	require.NoError(t, b.DeleteThread(ctx, "u1", th.ID))
	tn, err := b.ThreadNodes(ctx, cp.ID)
	require.NoError(t, err)
	assert.Empty(t, tn)

	th2, err := b.CreateThread(ctx, "u1", "c1", "t2")
	require.NoError(t, err)
	_, err = b.CreateCheckpoint(ctx, "u1", th2.ID, types.CheckpointInput{})
	require.NoError(t, err)
	require.NoError(t, b.DeleteCanvas(ctx, "u1", "c1"))

	var n int
	require.NoError(t, b.db.QueryRow("SELECT COUNT(*) FROM thread_checkpoints").Scan(&n))
	assert.Zero(t, n)
}

func TestThreadTable_ConcurrentCheckpoints(t *testing.T) {
	ctx := context.Background()
	b := setupBackend(t)
	require.NoError(t, b.CreateCanvas(ctx, sampleCanvas("c1", "u1", "a")))
	th, err := b.CreateThread(ctx, "u1", "c1", "t")
	require.NoError(t, err)

	const writers = 5
	versions := make([]int64, writers)
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			cp, err := b.CreateCheckpoint(ctx, "u1", th.ID, types.CheckpointInput{})
			if err != nil {
				return err
			}
			versions[i] = cp.Version
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, versions)
}
