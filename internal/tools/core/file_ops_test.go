package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coco/internal/tools"
)

func newTestRegistry(t *testing.T) (*tools.Registry, string) {
	t.Helper()
	ws := t.TempDir()
	r := tools.NewRegistry()
	require.NoError(t, RegisterAll(r, Config{Workspace: ws}))
	return r, ws
}

func TestWriteThenReadFile(t *testing.T) {
	r, ws := newTestRegistry(t)

	res := r.Dispatch(context.Background(), "write_file", map[string]any{
		"path":    "notes/today.md",
		"content": "line one\nline two\nline three",
	})
	require.True(t, res.OK, res.ErrorMessage)

	// Relative paths resolve against the workspace.
	_, err := os.Stat(filepath.Join(ws, "notes", "today.md"))
	require.NoError(t, err)

	res = r.Dispatch(context.Background(), "read_file", map[string]any{"path": "notes/today.md"})
	require.True(t, res.OK)
	assert.Equal(t, "line one\nline two\nline three", res.Value)
}

func TestReadFileLineRange(t *testing.T) {
	r, _ := newTestRegistry(t)
	res := r.Dispatch(context.Background(), "write_file", map[string]any{
		"path": "f.txt", "content": "a\nb\nc\nd",
	})
	require.True(t, res.OK)

	res = r.Dispatch(context.Background(), "read_file", map[string]any{
		"path": "f.txt", "start_line": 2, "end_line": 3,
	})
	require.True(t, res.OK, res.ErrorMessage)
	assert.Equal(t, "b\nc", res.Value)
}

func TestReadFileMissingIsInvalidInput(t *testing.T) {
	r, _ := newTestRegistry(t)
	res := r.Dispatch(context.Background(), "read_file", map[string]any{"path": "no-such-file"})
	assert.False(t, res.OK)
	assert.Equal(t, tools.KindInvalidInput, res.ErrorKind)
}

func TestListDirSkipsHidden(t *testing.T) {
	r, ws := newTestRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "visible.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".hidden"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(ws, "sub"), 0o755))

	res := r.Dispatch(context.Background(), "list_dir", map[string]any{"path": "."})
	require.True(t, res.OK)
	assert.Contains(t, res.Value, "visible.txt")
	assert.Contains(t, res.Value, "sub/")
	assert.NotContains(t, res.Value, ".hidden")
}

func TestUploadFileCopiesToShared(t *testing.T) {
	r, ws := newTestRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "report.pdf"), []byte("pdf"), 0o644))

	res := r.Dispatch(context.Background(), "upload_file", map[string]any{"path": "report.pdf"})
	require.True(t, res.OK, res.ErrorMessage)

	data, err := os.ReadFile(filepath.Join(ws, "shared", "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "pdf", string(data))
}

func TestSearchCode(t *testing.T) {
	r, ws := newTestRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, "main.go"), []byte("package main\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "readme.txt"), []byte("nothing here\n"), 0o644))

	res := r.Dispatch(context.Background(), "search_code", map[string]any{
		"pattern": `func \w+`,
		"glob":    "*.go",
	})
	require.True(t, res.OK, res.ErrorMessage)
	assert.Contains(t, res.Value, "main.go:2")
	assert.NotContains(t, res.Value, "readme.txt")
}

func TestSearchCodeBadPattern(t *testing.T) {
	r, _ := newTestRegistry(t)
	res := r.Dispatch(context.Background(), "search_code", map[string]any{"pattern": "["})
	assert.Equal(t, tools.KindInvalidInput, res.ErrorKind)
}

func TestCreateDocument(t *testing.T) {
	r, ws := newTestRegistry(t)
	res := r.Dispatch(context.Background(), "create_document", map[string]any{
		"title":   "Trip Plan: Lisbon!",
		"content": "Day 1: arrive.",
	})
	require.True(t, res.OK, res.ErrorMessage)

	data, err := os.ReadFile(filepath.Join(ws, "docs", "trip-plan-lisbon.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Trip Plan: Lisbon!")
	assert.Contains(t, string(data), "Day 1: arrive.")
}

func TestCreateSpreadsheet(t *testing.T) {
	r, ws := newTestRegistry(t)
	res := r.Dispatch(context.Background(), "create_spreadsheet", map[string]any{
		"title": "Budget",
		"rows":  []any{"item,cost", "flight,420"},
	})
	require.True(t, res.OK, res.ErrorMessage)

	data, err := os.ReadFile(filepath.Join(ws, "docs", "budget.csv"))
	require.NoError(t, err)
	assert.Equal(t, "item,cost\nflight,420\n", string(data))
}
