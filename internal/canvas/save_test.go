package canvas

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/easel/pkg/types"
)

// interleavingStore runs hook once, just before the first UpdateCanvas
// reaches the backend. Nested calls made by the hook pass straight through.
type interleavingStore struct {
	types.Store
	fired atomic.Bool
	hook  func()
}

func (s *interleavingStore) UpdateCanvas(ctx context.Context, owner, id string, patch types.CanvasPatch, expected int64) (*types.Canvas, error) {
	if s.fired.CompareAndSwap(false, true) {
		s.hook()
	}
	return s.Store.UpdateCanvas(ctx, owner, id, patch, expected)
}

// conflictStore fails every conditional update on the version gate.
type conflictStore struct {
	types.Store
}

func (conflictStore) UpdateCanvas(context.Context, string, string, types.CanvasPatch, int64) (*types.Canvas, error) {
	return nil, types.ErrVersionConflict
}

// flakyStore fails the first n updates with a transient error.
type flakyStore struct {
	types.Store
	failures atomic.Int32
}

func (s *flakyStore) UpdateCanvas(ctx context.Context, owner, id string, patch types.CanvasPatch, expected int64) (*types.Canvas, error) {
	if s.failures.Add(-1) >= 0 {
		return nil, errors.Wrap(types.ErrTransient, "database is locked")
	}
	return s.Store.UpdateCanvas(ctx, owner, id, patch, expected)
}

// panicStore panics on every canvas read.
type panicStore struct {
	types.Store
}

func (panicStore) GetCanvas(context.Context, string, string) (*types.Canvas, error) {
	panic("boom")
}

func TestSave_SequentialVersions(t *testing.T) {
	ctx := context.Background()
	svc, rec := setupService(t, nil, nil)

	req := saveRequest("c1", []types.Node{node("a", "hi")}, nil)
	for want := int64(1); want <= 3; want++ {
		res, err := svc.Save(ctx, owner, req)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, want, res.Version)
		assert.False(t, res.ConflictResolved)
		assert.NotEmpty(t, res.SessionID)
		assert.NotEmpty(t, res.Timestamp)
		req.Nodes = append(req.Nodes, node(strconv.FormatInt(want, 10)))
	}
	assert.Empty(t, rec.Waits(), "uncontended saves never back off")

	cv, err := svc.GetCanvas(ctx, owner, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cv.Version)
	assert.Equal(t, []string{"a", "1", "2"}, nodeIDs(cv.Nodes))

	md, err := svc.GetMetadata(ctx, owner, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), md.Analytics.SaveCount)
	assert.Equal(t, int64(3), md.Versioning.CurrentVersion)
	assert.Equal(t, types.SaveTypeAuto, md.Versioning.LastSaveType)

	active, err := svc.ActiveCanvas(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "c1", active)
}

func TestSave_ConcurrentWritersMergeByID(t *testing.T) {
	ctx := context.Background()
	backend := setupStore(t)
	store := &interleavingStore{Store: backend}
	svc, rec := setupService(t, store, nil)

	_, err := svc.Save(ctx, owner, saveRequest("c1", []types.Node{node("A", "root")}, nil))
	require.NoError(t, err)

	var first types.SaveResult
	store.hook = func() {
		var err error
		first, err = svc.Save(ctx, owner, saveRequest("c1",
			[]types.Node{node("A", "root"), node("B", "from one")},
			[]types.Edge{edge("A", "B")}))
		require.NoError(t, err)
	}

	second, err := svc.Save(ctx, owner, saveRequest("c1",
		[]types.Node{node("A", "root"), node("C", "from two")},
		[]types.Edge{edge("A", "C")}))
	require.NoError(t, err)

	assert.Equal(t, int64(2), first.Version)
	assert.False(t, first.ConflictResolved)
	assert.Equal(t, int64(3), second.Version)
	assert.True(t, second.ConflictResolved)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, rec.Waits())

	cv, err := svc.GetCanvas(ctx, owner, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cv.Version)
	assert.Equal(t, []string{"A", "C", "B"}, nodeIDs(cv.Nodes))
	require.Len(t, cv.Edges, 2)
	assert.ElementsMatch(t, []string{"A-B", "A-C"}, []string{cv.Edges[0].ID, cv.Edges[1].ID})

	md, err := svc.GetMetadata(ctx, owner, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), md.Analytics.ConflictCount)
}

func TestSave_StaleBaseVersionMerges(t *testing.T) {
	ctx := context.Background()
	svc, rec := setupService(t, nil, nil)

	_, err := svc.Save(ctx, owner, saveRequest("c1", []types.Node{node("A")}, nil))
	require.NoError(t, err)
	_, err = svc.Save(ctx, owner, saveRequest("c1", []types.Node{node("A"), node("B")}, nil))
	require.NoError(t, err)

	req := saveRequest("c1", []types.Node{node("A"), node("C")}, nil)
	req.Options.BaseVersion = 1
	res, err := svc.Save(ctx, owner, req)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Version)
	assert.True(t, res.ConflictResolved)
	assert.Empty(t, rec.Waits(), "a declared stale base merges without a failed write")

	cv, err := svc.GetCanvas(ctx, owner, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "B"}, nodeIDs(cv.Nodes))
}

func TestSave_CurrentBaseVersionDoesNotMerge(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t, nil, nil)

	_, err := svc.Save(ctx, owner, saveRequest("c1", []types.Node{node("A"), node("B")}, nil))
	require.NoError(t, err)

	req := saveRequest("c1", []types.Node{node("A")}, nil)
	req.Options.BaseVersion = 1
	res, err := svc.Save(ctx, owner, req)
	require.NoError(t, err)
	assert.False(t, res.ConflictResolved)

	cv, err := svc.GetCanvas(ctx, owner, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, nodeIDs(cv.Nodes), "an up-to-date client may remove nodes")
}

func TestSave_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	backend := setupStore(t)
	svc, rec := setupService(t, conflictStore{Store: backend}, nil)

	require.NoError(t, backend.CreateCanvas(ctx, &types.Canvas{ID: "c1", UserID: owner, Version: 1}))

	req := saveRequest("c1", []types.Node{node("A")}, nil)
	req.Options.RetryCount = retries(2)
	res, err := svc.Save(ctx, owner, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrVersionConflictUnresolved), "got %v", err)
	assert.False(t, res.Success)
	assert.Equal(t, types.CodeVersionConflictUnresolved, res.Code)
	assert.NotEmpty(t, res.Error)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, rec.Waits())

	sess, err := svc.GetSession(ctx, owner, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sess.ErrorCount)
	assert.NotEmpty(t, sess.LastError)

	cv, err := backend.GetCanvas(ctx, owner, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cv.Version, "nothing was overwritten")
	assert.Empty(t, cv.Nodes)
}

func TestSave_ZeroRetriesFailsOnFirstConflict(t *testing.T) {
	ctx := context.Background()
	backend := setupStore(t)
	svc, rec := setupService(t, conflictStore{Store: backend}, nil)
	require.NoError(t, backend.CreateCanvas(ctx, &types.Canvas{ID: "c1", UserID: owner, Version: 1}))

	req := saveRequest("c1", nil, nil)
	req.Options.RetryCount = retries(0)
	_, err := svc.Save(ctx, owner, req)
	assert.True(t, errors.Is(err, types.ErrVersionConflictUnresolved), "got %v", err)
	assert.Empty(t, rec.Waits())
}

func TestSave_TransientErrorsRetried(t *testing.T) {
	ctx := context.Background()
	backend := setupStore(t)
	store := &flakyStore{Store: backend}
	svc, rec := setupService(t, store, nil)

	_, err := svc.Save(ctx, owner, saveRequest("c1", []types.Node{node("A")}, nil))
	require.NoError(t, err)

	store.failures.Store(2)
	res, err := svc.Save(ctx, owner, saveRequest("c1", []types.Node{node("A"), node("B")}, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Version)
	assert.False(t, res.ConflictResolved)
	assert.Len(t, rec.Waits(), 2)
}

func TestSave_IDOwnedByAnotherUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t, nil, nil)

	_, err := svc.Save(ctx, "user-a", saveRequest("shared", []types.Node{node("A")}, nil))
	require.NoError(t, err)

	res, err := svc.Save(ctx, "user-b", saveRequest("shared", []types.Node{node("X")}, nil))
	assert.True(t, errors.Is(err, types.ErrVersionConflictUnresolved), "got %v", err)
	assert.False(t, res.Success)

	cv, err := svc.GetCanvas(ctx, "user-a", "shared")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, nodeIDs(cv.Nodes))
}

func TestSave_BoundaryErrors(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t, nil, nil)

	tests := []struct {
		name     string
		owner    string
		req      types.SaveRequest
		wantErr  error
		wantCode string
	}{
		{"no owner", "", saveRequest("c1", nil, nil), types.ErrAuthenticationRequired, types.CodeAuthenticationRequired},
		{"no id", owner, saveRequest("", nil, nil), types.ErrInvalidData, types.CodeInvalidRequest},
		{
			"bad save type", owner,
			types.SaveRequest{ID: "c1", Options: types.SaveOptions{SaveType: "hourly"}},
			types.ErrInvalidData, types.CodeInvalidRequest,
		},
		{
			"retry budget out of range", owner,
			types.SaveRequest{ID: "c1", Options: types.SaveOptions{RetryCount: retries(50)}},
			types.ErrInvalidData, types.CodeInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Save(ctx, tt.owner, tt.req)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantCode, res.Code)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestSave_RecoversPanics(t *testing.T) {
	svc, _ := setupService(t, panicStore{Store: setupStore(t)}, nil)

	res, err := svc.Save(context.Background(), owner, saveRequest("c1", nil, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "internal error")
	assert.False(t, res.Success)
	assert.Equal(t, types.CodeInternal, res.Code)

	_, err = svc.GetCanvas(context.Background(), owner, "c1")
	assert.Contains(t, err.Error(), "internal error")
}

func TestSave_DatabaseUnavailable(t *testing.T) {
	backend := setupStore(t)
	svc, _ := setupService(t, backend, nil)
	require.NoError(t, backend.Detach())

	res, err := svc.Save(context.Background(), owner, saveRequest("c1", nil, nil))
	assert.True(t, errors.Is(err, types.ErrDatabaseUnavailable), "got %v", err)
	assert.Equal(t, types.CodeDatabaseUnavailable, res.Code)
}

func TestSave_BackupDecision(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		existing   bool
		nodes      []types.Node
		force      bool
		wantBackup bool
	}{
		{"first save of multi-node canvas", false, []types.Node{node("A"), node("B")}, false, true},
		{"first save of single-node canvas", false, []types.Node{node("A")}, false, false},
		{"later save of multi-node canvas", true, []types.Node{node("A"), node("B")}, false, false},
		{"explicit backup", true, []types.Node{node("A")}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := setupService(t, nil, nil)
			if tt.existing {
				_, err := svc.Save(ctx, owner, saveRequest("c1", []types.Node{node("A")}, nil))
				require.NoError(t, err)
			}
			req := saveRequest("c1", tt.nodes, nil)
			req.Options.CreateBackup = tt.force
			res, err := svc.Save(ctx, owner, req)
			require.NoError(t, err)

			backups, err := svc.ListBackups(ctx, owner, "c1", 0)
			require.NoError(t, err)
			if !tt.wantBackup {
				assert.Empty(t, res.BackupID)
				assert.Empty(t, backups)
				return
			}
			require.NotEmpty(t, res.BackupID)
			require.Len(t, backups, 1)
			assert.Equal(t, res.BackupID, backups[0].ID)
			assert.Equal(t, res.Version, backups[0].Version)
			assert.Equal(t, types.BackupKindAuto, backups[0].Kind)
		})
	}
}

func TestSave_SessionCounters(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t, nil, nil)

	req := saveRequest("c1", []types.Node{node("A")}, nil)
	req.SessionID = "tab-1"
	for range 2 {
		res, err := svc.Save(ctx, owner, req)
		require.NoError(t, err)
		assert.Equal(t, "tab-1", res.SessionID)
	}

	sess, err := svc.GetSession(ctx, owner, "tab-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), sess.SaveCount)
	assert.Zero(t, sess.ErrorCount)
	assert.Equal(t, "c1", sess.CanvasID)

	_, err = svc.GetSession(ctx, "someone-else", "tab-1")
	assert.True(t, errors.Is(err, types.ErrNotFound), "got %v", err)
}

func TestBackoff(t *testing.T) {
	svc := NewService(nil, nil, nil, Options{RetryBaseDelay: 100 * time.Millisecond})
	assert.Equal(t, 100*time.Millisecond, svc.backoff(0))
	assert.Equal(t, 200*time.Millisecond, svc.backoff(1))
	assert.Equal(t, 400*time.Millisecond, svc.backoff(2))
	assert.Equal(t, svc.backoff(16), svc.backoff(40))
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
