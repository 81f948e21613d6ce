package research

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coco/internal/tools"
)

const ddgFixture = `<html><body>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="https://go.dev/doc/">Go Documentation</a>
  <a class="result__snippet" href="#">Official Go docs and tutorials.</a>
</div>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fblog%2F&rut=abc">The Go Blog</a>
</div>
</body></html>`

func TestParseDuckDuckGoResults(t *testing.T) {
	results := ParseDuckDuckGoResults(ddgFixture, 10)
	require.Len(t, results, 2)
	assert.Equal(t, "Go Documentation", results[0].Title)
	assert.Equal(t, "https://go.dev/doc/", results[0].URL)
	assert.Equal(t, "Official Go docs and tutorials.", results[0].Snippet)
	// Redirect URLs are unwrapped.
	assert.Equal(t, "https://go.dev/blog/", results[1].URL)
}

func TestParseDuckDuckGoResultsRespectsMax(t *testing.T) {
	results := ParseDuckDuckGoResults(ddgFixture, 1)
	assert.Len(t, results, 1)
}

func TestSearchWebRejectsEmptyQuery(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(SearchWebTool(nil)))
	res := r.Dispatch(context.Background(), "search_web", map[string]any{"query": "  "})
	assert.Equal(t, tools.KindInvalidInput, res.ErrorKind)
}

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("file body"))
	}))
	defer srv.Close()

	ws := t.TempDir()
	r := tools.NewRegistry()
	require.NoError(t, RegisterAll(r, srv.Client(), ws))

	res := r.Dispatch(context.Background(), "download_file", map[string]any{
		"url":      srv.URL + "/assets/report.pdf",
		"filename": "report.pdf",
	})
	require.True(t, res.OK, res.ErrorMessage)

	data, err := os.ReadFile(filepath.Join(ws, "downloads", "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "file body", string(data))
}

func TestDownloadFileHTTPErrorIsExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	r := tools.NewRegistry()
	require.NoError(t, RegisterAll(r, srv.Client(), t.TempDir()))

	res := r.Dispatch(context.Background(), "download_file", map[string]any{"url": srv.URL + "/x"})
	assert.Equal(t, tools.KindExternalFailure, res.ErrorKind)
}

func TestDownloadFileRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := tools.NewRegistry()
	require.NoError(t, RegisterAll(r, srv.Client(), t.TempDir()))

	res := r.Dispatch(context.Background(), "download_file", map[string]any{"url": srv.URL + "/x"})
	assert.Equal(t, tools.KindRateLimited, res.ErrorKind)
}

func TestDownloadFileRejectsNonHTTP(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, RegisterAll(r, nil, t.TempDir()))
	res := r.Dispatch(context.Background(), "download_file", map[string]any{"url": "file:///etc/passwd"})
	assert.Equal(t, tools.KindInvalidInput, res.ErrorKind)
}
