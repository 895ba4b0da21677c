// Package integration provides end-to-end tests (requires real storage and an index root).
package integration

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/ronbun/internal/config"
	"github.com/hyperjump/ronbun/internal/embedding"
	"github.com/hyperjump/ronbun/internal/indexer"
	"github.com/hyperjump/ronbun/internal/models"
	"github.com/hyperjump/ronbun/internal/search"
	"github.com/hyperjump/ronbun/internal/storage"
	"github.com/hyperjump/ronbun/internal/watcher"
)

const corpus = `[
  {"arxiv_id": "1706.03762", "title": "Attention Is All You Need",
   "abstract": "The dominant sequence transduction models are based on recurrent networks.",
   "published": "2017-06-12", "categories": ["cs.CL", "cs.LG"], "authors": ["Ashish Vaswani", "Noam Shazeer"]},
  {"arxiv_id": "1512.03385", "title": "Deep Residual Learning for Image Recognition",
   "abstract": "Deeper neural networks are more difficult to train.",
   "published": "2015-12-10", "categories": ["cs.CV"], "authors": ["Kaiming He"]},
  {"arxiv_id": "1810.04805", "title": "BERT: Pre-training of Deep Bidirectional Transformers",
   "abstract": "We introduce a new language representation model.",
   "published": "2018-10-11", "categories": ["cs.CL"], "authors": ["Jacob Devlin"]}
]`

func newTestConfig(dir string) *config.Config {
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath: filepath.Join(dir, "ronbun.db"),
			IndexDir:     filepath.Join(dir, "index"),
		},
		Embedding: config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 128, CacheSize: 100},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestIntegration_ImportBuildSearch(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestConfig(dir)
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	stats, err := indexer.NewImporter(store, zap.NewNop()).Import(ctx, strings.NewReader(corpus))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Imported != 3 {
		t.Fatalf("imported %d, want 3", stats.Imported)
	}

	embedder := embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	defer embedder.Close()

	report, err := indexer.NewBuilder(store, embedder, cfg.Storage.IndexDir, indexer.WithBatchSize(2)).Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.IndexSize != 3 || report.DocumentsByYear[2017] != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	snap, err := indexer.LoadSnapshot(cfg.Storage.IndexDir, embedder.Dimensions())
	if err != nil {
		t.Fatal(err)
	}
	engine := search.NewEngine(store, embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize),
		indexer.NewHolder(snap), &cfg.Search)

	resp, err := engine.Search(ctx, &models.SearchQuery{Query: "transformers for language", K: 5})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 || resp.BuildID != report.BuildID {
		t.Errorf("expected 3 results from build %s, got %d from %s", report.BuildID, resp.Total, resp.BuildID)
	}
	for i, r := range resp.Results {
		if r.Rank != i+1 {
			t.Errorf("result %d has rank %d", i, r.Rank)
		}
		if i > 0 && r.Score > resp.Results[i-1].Score {
			t.Errorf("results not sorted by score at %d", i)
		}
	}

	resp, err = engine.Search(ctx, &models.SearchQuery{
		Query:   "transformers",
		Filters: &models.Filters{Categories: []string{"cs.CL"}, Years: []int{2018}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Results[0].Document.ExternalID != "1810.04805" {
		t.Errorf("filtered search returned %+v", resp.Results)
	}
}

func TestIntegration_ReloadOnNewBuild(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestConfig(dir)
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, err := indexer.NewImporter(store, zap.NewNop()).Import(ctx, strings.NewReader(corpus)); err != nil {
		t.Fatal(err)
	}

	embedder := embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	builder := indexer.NewBuilder(store, embedder, cfg.Storage.IndexDir)
	first, err := builder.Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := indexer.LoadSnapshot(cfg.Storage.IndexDir, embedder.Dimensions())
	if err != nil {
		t.Fatal(err)
	}
	holder := indexer.NewHolder(snap)

	reloader := watcher.NewReloader(cfg.Storage.IndexDir, func() (bool, error) {
		return holder.Reload(cfg.Storage.IndexDir, embedder.Dimensions())
	}, watcher.WithDebounce(20*time.Millisecond))
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := reloader.Start(watchCtx); err != nil {
		t.Fatal(err)
	}
	defer reloader.Stop()

	if _, err := store.UpsertDocument(ctx, &models.DocumentInput{
		ExternalID: "2005.14165", Title: "Language Models are Few-Shot Learners",
	}, models.IntPtr(2020)); err != nil {
		t.Fatal(err)
	}
	second, err := builder.Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.BuildID == first.BuildID {
		t.Fatal("second build reused the first build id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := holder.Load(); s != nil && s.BuildID == second.BuildID {
			if s.Index.Size() != 4 {
				t.Errorf("reloaded index has %d vectors, want 4", s.Index.Size())
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("holder still serving %s after new build %s", holder.Load().BuildID, second.BuildID)
}
