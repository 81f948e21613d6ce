package retrieval

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coctx "coco/internal/context"
)

func writeDocs(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestKeywordIndexMissingDirIsEmpty(t *testing.T) {
	idx, err := NewKeywordIndex(filepath.Join(t.TempDir(), "nope"), nil)
	require.NoError(t, err)
	assert.Zero(t, idx.ChunkCount())

	out, err := idx.RelevantChunks("anything", 1000)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRelevantChunksIncludesSourceHeader(t *testing.T) {
	dir := writeDocs(t, map[string]string{
		"kubernetes.md": "Kubernetes deployment notes.\n\nThe staging cluster runs three replicas of the gateway.",
		"recipes.txt":   "Pasta carbonara uses guanciale, eggs, and pecorino.",
	})
	idx, err := NewKeywordIndex(dir, nil)
	require.NoError(t, err)

	out, err := idx.RelevantChunks("kubernetes staging cluster", 5000)
	require.NoError(t, err)
	assert.Contains(t, out, "--- kubernetes.md (chunk 0) ---")
	assert.Contains(t, out, "staging cluster")
	assert.NotContains(t, out, "carbonara", "unrelated documents must not appear")
}

func TestRelevantChunksHonorsBudget(t *testing.T) {
	para := strings.Repeat("gateway replicas scale with traffic load measurement. ", 20)
	dir := writeDocs(t, map[string]string{
		"a.md": para + "\n\n" + para + "\n\n" + para,
	})
	est := coctx.NewEstimator()
	idx, err := NewKeywordIndex(dir, est)
	require.NoError(t, err)
	require.Greater(t, idx.ChunkCount(), 1)

	budget := 200
	out, err := idx.RelevantChunks("gateway replicas traffic", budget)
	require.NoError(t, err)
	assert.LessOrEqual(t, est.Estimate(out), budget)
}

func TestRelevantChunksDeterministic(t *testing.T) {
	dir := writeDocs(t, map[string]string{
		"a.md": "alpha bravo charlie delta.\n\nalpha echo foxtrot golf.",
		"b.md": "alpha hotel india juliett.",
	})
	idx, err := NewKeywordIndex(dir, nil)
	require.NoError(t, err)

	first, err := idx.RelevantChunks("alpha juliett", 5000)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := idx.RelevantChunks("alpha juliett", 5000)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRelevantChunksZeroOverlapReturnsNothing(t *testing.T) {
	dir := writeDocs(t, map[string]string{"a.md": "entirely unrelated prose about sailing."})
	idx, err := NewKeywordIndex(dir, nil)
	require.NoError(t, err)

	out, err := idx.RelevantChunks("quantum chromodynamics", 5000)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRelevantChunksSkipsNonTextFiles(t *testing.T) {
	dir := writeDocs(t, map[string]string{
		"a.md":   "searchable keyword zebra here.",
		"b.json": `{"zebra": true}`,
	})
	idx, err := NewKeywordIndex(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.ChunkCount())
}
