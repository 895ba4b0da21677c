package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/ronbun/internal/config"
	"github.com/hyperjump/ronbun/internal/embedding"
	"github.com/hyperjump/ronbun/internal/indexer"
	"github.com/hyperjump/ronbun/internal/models"
	"github.com/hyperjump/ronbun/internal/search"
	"github.com/hyperjump/ronbun/internal/storage"
)

const testDim = 256

type testEnv struct {
	srv    *Server
	store  *storage.SQLiteStorage
	holder *indexer.Holder
	root   string
	ids    map[string]int64
}

func newTestEnv(t *testing.T, build bool) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	ids := make(map[string]int64)
	papers := []struct {
		in   models.DocumentInput
		year int
	}{
		{models.DocumentInput{ExternalID: "1", Title: "Graph neural networks for molecules", Abstract: "graph message passing chemistry", Categories: []string{"cs.LG"}, Authors: []string{"Ada"}}, 2021},
		{models.DocumentInput{ExternalID: "2", Title: "Protein folding with transformers", Abstract: "attention protein structure", Categories: []string{"q-bio.BM"}, Authors: []string{"Alan"}}, 2020},
		{models.DocumentInput{ExternalID: "3", Title: "Graph coloring bounds", Abstract: "chromatic number graph theory", Categories: []string{"math.CO"}, Authors: []string{"Ada"}}, 2021},
	}
	for _, p := range papers {
		in := p.in
		id, err := store.UpsertDocument(ctx, &in, models.IntPtr(p.year))
		require.NoError(t, err)
		ids[in.ExternalID] = id
	}

	enc := embedding.NewMockEmbedder(testDim)
	root := filepath.Join(dir, "index")
	holder := indexer.NewHolder(nil)
	if build {
		_, err := indexer.NewBuilder(store, enc, root).Build(ctx)
		require.NoError(t, err)
		snap, err := indexer.LoadSnapshot(root, testDim)
		require.NoError(t, err)
		holder.Swap(snap)
	}

	cfg := &config.Config{}
	cfg.Embedding.Provider = config.ProviderMock
	cfg.Embedding.Dimensions = testDim
	cfg.Storage.DatabasePath = filepath.Join(dir, "db.sqlite")
	cfg.Storage.IndexDir = root
	config.ApplyDefaults(cfg)
	cfg.Search.EncodeTimeout = time.Second

	engine := search.NewEngine(store, enc, holder, &cfg.Search)
	reload := func() (bool, error) { return holder.Reload(root, testDim) }
	srv := NewServer(engine, store, holder, reload, cfg, zap.NewNop())
	return &testEnv{srv: srv, store: store, holder: holder, root: root, ids: ids}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(w, r)
	return w
}

func TestHandleSearch(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.do(t, http.MethodPost, "/api/v1/search", `{"query": "graph neural networks molecules", "k": 2}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "1", resp.Results[0].Document.ExternalID)
	assert.GreaterOrEqual(t, resp.Results[0].Score, resp.Results[1].Score)
	assert.NotEmpty(t, resp.BuildID)
	assert.Equal(t, 2, resp.Total)
}

func TestHandleSearch_Filters(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.do(t, http.MethodPost, "/api/v1/search",
		`{"query": "graph", "k": 5, "filters": {"years": [2021], "authors": ["Ada"]}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		require.NotNil(t, r.Document.Year)
		assert.Equal(t, 2021, *r.Document.Year)
	}
}

func TestHandleSearch_EmptyQuery(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.do(t, http.MethodPost, "/api/v1/search", `{"query": "   "}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Empty(t, resp.Results)
}

func TestHandleSearch_Errors(t *testing.T) {
	env := newTestEnv(t, true)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{"query":`, http.StatusBadRequest},
		{"negative k", `{"query": "graph", "k": -2}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/search", tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestHandleSearch_NoIndex(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, http.MethodPost, "/api/v1/search", `{"query": "graph"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSearchErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, searchErrorStatus(search.ErrEncodeFailure))
	assert.Equal(t, http.StatusInternalServerError, searchErrorStatus(search.ErrIndexCorruption))
	assert.Equal(t, http.StatusBadRequest, searchErrorStatus(search.ErrInvalidQuery))
}

func TestHandleGetDocument(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/api/v1/documents/"+itoa(env.ids["2"]), "")
	require.Equal(t, http.StatusOK, w.Code)
	var doc models.Document
	require.NoError(t, json.NewDecoder(w.Body).Decode(&doc))
	assert.Equal(t, "Protein folding with transformers", doc.Title)
	assert.Equal(t, []string{"Alan"}, doc.Authors)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/documents/9999", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/documents/abc", "").Code)
}

func TestHandleFacets(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, http.MethodGet, "/api/v1/facets", "")
	require.Equal(t, http.StatusOK, w.Code)
	var f storage.Facets
	require.NoError(t, json.NewDecoder(w.Body).Decode(&f))
	assert.Equal(t, []int{2020, 2021}, f.Years)
	assert.Equal(t, []string{"Ada", "Alan"}, f.Authors)
	assert.Equal(t, []string{"cs.LG", "math.CO", "q-bio.BM"}, f.Categories)
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t, true)
	w := env.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Documents int64          `json:"documents"`
		Index     snapshotStatus `json:"index"`
		Disk      int64          `json:"disk_usage_bytes"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, int64(3), out.Documents)
	assert.Equal(t, 3, out.Index.Vectors)
	assert.Equal(t, testDim, out.Index.Dimension)
	assert.Equal(t, embedding.MockModelName, out.Index.Model)
	assert.Greater(t, out.Disk, int64(0))
}

func TestHandleReload(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/index/reload", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	_, err := indexer.NewBuilder(env.store, embedding.NewMockEmbedder(testDim), env.root).Build(context.Background())
	require.NoError(t, err)

	w = env.do(t, http.MethodPost, "/api/v1/index/reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reloaded"`)
	require.NotNil(t, env.holder.Load())

	w = env.do(t, http.MethodPost, "/api/v1/index/reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"unchanged"`)
}

func TestHandleReload_Disabled(t *testing.T) {
	env := newTestEnv(t, false)
	env.srv.reload = nil
	assert.Equal(t, http.StatusNotImplemented, env.do(t, http.MethodPost, "/api/v1/index/reload", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, false)
	w := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")

	w = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "go_goroutines"))
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
