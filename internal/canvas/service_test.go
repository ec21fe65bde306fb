package canvas

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/easel/internal/sqlite"
	"github.com/mesh-intelligence/easel/pkg/types"
)

const owner = "user-1"

// fakeClock advances one second per reading so backups order by creation.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// sleepRecorder records backoff waits instead of sleeping.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

func (r *sleepRecorder) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

// setupStore attaches a SQLite backend under t.TempDir.
func setupStore(t *testing.T) *sqlite.Backend {
	t.Helper()
	b := sqlite.NewBackend()
	require.NoError(t, b.Attach(context.Background(), types.Config{
		Backend: types.BackendSQLite,
		DataDir: t.TempDir(),
	}))
	t.Cleanup(func() { b.Detach() })
	return b
}

// setupService wires a Service over store with a fake clock and no real
// sleeping. A nil store gets a fresh SQLite backend.
func setupService(t *testing.T, store types.Store, mc types.MetadataCache) (*Service, *sleepRecorder) {
	t.Helper()
	if store == nil {
		store = setupStore(t)
	}
	rec := &sleepRecorder{}
	svc := NewService(store, nil, mc, Options{
		RetryBaseDelay: 10 * time.Millisecond,
		Sleep:          rec.Sleep,
		Now:            newFakeClock().Now,
	})
	return svc, rec
}

func node(id string, texts ...string) types.Node {
	n := types.Node{ID: id, Type: types.NodeTypeBranch, Messages: []types.MessageEntry{}}
	for i, text := range texts {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		n.Messages = append(n.Messages, types.FlatEntry(types.Message{
			ID:      id + "-m" + strconv.Itoa(i),
			Role:    role,
			Content: text,
		}))
	}
	return n
}

func edge(from, to string) types.Edge {
	return types.Edge{ID: from + "-" + to, From: from, To: to}
}

func saveRequest(id string, nodes []types.Node, edges []types.Edge) types.SaveRequest {
	return types.SaveRequest{ID: id, Title: "Canvas " + id, Nodes: nodes, Edges: edges}
}

func retries(n int) *int { return &n }

func nodeIDs(nodes []types.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
