package canvas

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/easel/pkg/types"
)

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src, _ := setupService(t, nil, nil)

	nodes, edges := chain("a", "b", "c")
	_, err := src.Save(ctx, owner, saveRequest("c1", nodes, edges))
	require.NoError(t, err)
	_, err = src.Save(ctx, owner, saveRequest("c2", []types.Node{node("x")}, nil))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "canvases.jsonl")
	n, err := src.Export(ctx, owner, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(raw)), "\n"), 2)

	dst, _ := setupService(t, nil, nil)
	n, err = dst.Import(ctx, "importer", path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cv, err := dst.GetCanvas(ctx, "importer", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, nodeIDs(cv.Nodes))
	assert.Len(t, cv.Edges, 2)
	assert.Equal(t, types.FlattenMessages(nodes[2].Messages), types.FlattenMessages(cv.Nodes[2].Messages))
}

func TestImport_SkipsMalformedLines(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t, nil, nil)

	path := filepath.Join(t.TempDir(), "in.jsonl")
	content := strings.Join([]string{
		`{"id":"good","title":"ok","nodes":[{"id":"a","type":"branch","position":{"x":0,"y":0},"messages":[]}],"edges":[]}`,
		`{not json`,
		``,
		`{"title":"no id"}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	n, err := svc.Import(ctx, owner, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cv, err := svc.GetCanvas(ctx, owner, "good")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, nodeIDs(cv.Nodes))
}

func TestImport_MissingFile(t *testing.T) {
	svc, _ := setupService(t, nil, nil)
	_, err := svc.Import(context.Background(), owner, filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}

func TestExport_LeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t, nil, nil)
	_, err := svc.Save(ctx, owner, saveRequest("c1", nil, nil))
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = svc.Export(ctx, owner, filepath.Join(dir, "out.jsonl"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.jsonl", entries[0].Name())
}
