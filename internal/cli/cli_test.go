package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/easel/internal/sqlite"
	"github.com/mesh-intelligence/easel/pkg/types"
)

// runCLI executes easel with isolated config and data directories under dir.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{
		"--config-dir", filepath.Join(dir, "config"),
		"--data-dir", filepath.Join(dir, "data"),
	}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name string, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func document(nodeIDs ...string) map[string]any {
	nodes := []map[string]any{}
	for _, id := range nodeIDs {
		nodes = append(nodes, map[string]any{
			"id": id, "type": "branch", "position": map[string]any{"x": 0, "y": 0},
			"messages": []map[string]any{{"id": id + "-1", "role": "user", "content": "hi"}},
		})
	}
	return map[string]any{"title": "from cli", "nodes": nodes, "edges": []any{}}
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "easel v")
	assert.Contains(t, out, "github.com/mesh-intelligence/easel")
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	out, err := runCLI(t, dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "easel initialized")

	_, err = os.Stat(filepath.Join(dir, "config", "config.yaml"))
	assert.NoError(t, err, "default config written")
	_, err = os.Stat(filepath.Join(dir, "data", sqlite.DatabaseFile))
	assert.NoError(t, err, "database created")

	_, err = runCLI(t, dir, "init")
	require.NoError(t, err, "init is idempotent")
}

func TestCanvasCommands(t *testing.T) {
	dir := t.TempDir()
	doc := writeFile(t, dir, "doc.json", document("a", "b"))

	out, err := runCLI(t, dir, "--user", "alice", "canvas", "save", "c1", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "Saved c1 at version 1")
	assert.Contains(t, out, "backup", "first multi-node save is backed up")

	out, err = runCLI(t, dir, "--user", "alice", "--json", "canvas", "save", "c1", doc, "--retries", "0")
	require.NoError(t, err)
	var res types.SaveResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, int64(2), res.Version)

	out, err = runCLI(t, dir, "--user", "alice", "--json", "canvas", "list")
	require.NoError(t, err)
	var list []types.CanvasSummary
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].NodeCount)

	out, err = runCLI(t, dir, "--user", "alice", "canvas", "get", "c1")
	require.NoError(t, err)
	var cv types.Canvas
	require.NoError(t, json.Unmarshal([]byte(out), &cv))
	assert.Equal(t, int64(2), cv.Version)

	out, err = runCLI(t, dir, "--user", "alice", "canvas", "metadata", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "version 2, 2 saves")

	archive := filepath.Join(dir, "all.jsonl")
	out, err = runCLI(t, dir, "--user", "alice", "canvas", "export", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 1 canvases")

	other := t.TempDir()
	out, err = runCLI(t, other, "--user", "alice", "canvas", "import", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 canvases")
	out, err = runCLI(t, other, "--user", "alice", "canvas", "metadata", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "version 1")

	_, err = runCLI(t, dir, "--user", "alice", "canvas", "delete", "c1")
	require.NoError(t, err)
	_, err = runCLI(t, dir, "--user", "alice", "canvas", "get", "c1")
	require.Error(t, err)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestBackupAndSettingsCommands(t *testing.T) {
	dir := t.TempDir()
	doc := writeFile(t, dir, "doc.json", document("a"))

	_, err := runCLI(t, dir, "--user", "alice", "canvas", "save", "c1", doc)
	require.NoError(t, err)

	out, err := runCLI(t, dir, "--user", "alice", "settings", "set", "--max-backups", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "maxBackupCount:     2")

	var ids []string
	for range 3 {
		out, err := runCLI(t, dir, "--user", "alice", "--json", "backup", "create", "c1")
		require.NoError(t, err)
		var sum types.BackupSummary
		require.NoError(t, json.Unmarshal([]byte(out), &sum))
		ids = append(ids, sum.ID)
	}

	out, err = runCLI(t, dir, "--user", "alice", "--json", "backup", "list", "c1")
	require.NoError(t, err)
	var backups []types.BackupSummary
	require.NoError(t, json.Unmarshal([]byte(out), &backups))
	assert.Len(t, backups, 2, "retention cap applied after each backup")

	out, err = runCLI(t, dir, "--user", "alice", "backup", "restore", "c1", ids[2])
	require.NoError(t, err)
	assert.Contains(t, out, "Restored c1 to version 2")

	_, err = runCLI(t, dir, "--user", "alice", "settings", "set", "--max-backups", "0")
	require.Error(t, err)
	assert.Equal(t, exitUserError, exitCode(err))

	out, err = runCLI(t, dir, "--user", "alice", "--json", "settings", "get")
	require.NoError(t, err)
	var st types.Settings
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 2, st.MaxBackupCount)
}

func TestThreadCommands(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, dir, "--user", "alice", "canvas", "save", "c1", writeFile(t, dir, "doc.json", document("a")))
	require.NoError(t, err)

	out, err := runCLI(t, dir, "--user", "alice", "--json", "thread", "create", "c1", "ideas")
	require.NoError(t, err)
	var th types.ConversationThread
	require.NoError(t, json.Unmarshal([]byte(out), &th))

	cpFile := writeFile(t, dir, "cp.json", map[string]any{"nodes": document("a")["nodes"]})
	out, err = runCLI(t, dir, "--user", "alice", "thread", "checkpoint", th.ID, cpFile, "--label", "first")
	require.NoError(t, err)
	assert.Contains(t, out, "(version 1)")

	out, err = runCLI(t, dir, "--user", "alice", "thread", "checkpoints", th.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "first")

	_, err = runCLI(t, dir, "--user", "alice", "thread", "delete", th.ID)
	require.NoError(t, err)
	_, err = runCLI(t, dir, "--user", "alice", "thread", "checkpoints", th.ID)
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestUserRequired(t *testing.T) {
	t.Setenv(envUser, "")
	_, err := runCLI(t, t.TempDir(), "canvas", "list")
	require.Error(t, err)
	assert.Equal(t, exitUserError, exitCode(err))

	t.Setenv(envUser, "carol")
	_, err = runCLI(t, t.TempDir(), "canvas", "list")
	assert.NoError(t, err)
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "--user", "alice", "--backend", "oracle", "canvas", "list")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrBackendUnknown), "got %v", err)
	assert.Equal(t, exitUserError, exitCode(err))

	_, err = runCLI(t, t.TempDir(), "--log-level", "loud", "init")
	assert.Equal(t, exitUserError, exitCode(err))
}

func TestServe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	done := make(chan error, 1)
	go func() { done <- serve(ctx, lis, h) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
