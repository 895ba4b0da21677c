package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/ronbun/internal/config"
	"github.com/hyperjump/ronbun/internal/embedding"
	"github.com/hyperjump/ronbun/internal/indexer"
	"github.com/hyperjump/ronbun/internal/search"
	"github.com/hyperjump/ronbun/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Config   *config.Config
	Storage  *storage.SQLiteStorage
	Embedder embedding.Embedder
	Holder   *indexer.Holder
	Engine   *search.Engine
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// Reload loads the committed build into the holder.
func (c *Components) Reload() (bool, error) {
	return c.Holder.Reload(c.Config.Storage.IndexDir, c.Embedder.Dimensions())
}

// newEmbedder returns the encoder for the configured provider.
func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	e := cfg.Embedding
	switch e.Provider {
	case config.ProviderMock:
		return embedding.NewMockEmbedder(e.Dimensions), nil
	case config.ProviderONNX:
		onnx, err := embedding.NewONNXEmbedder(e.ModelName, e.ModelPath, e.VocabPathOrDefault(), e.Dimensions, e.MaxTokens)
		if err != nil {
			return nil, err
		}
		return onnx, nil
	case config.ProviderOpenAI:
		oa, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:     e.OpenAI.APIKey(),
			BaseURL:    e.OpenAI.BaseURL,
			Model:      e.ModelName,
			Dimensions: e.Dimensions,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return oa, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", e.Provider)
	}
}

// indexMode says whether initializeComponents loads the committed build.
type indexMode int

const (
	noIndex indexMode = iota
	// requireIndex fails startup when no usable build is committed.
	requireIndex
	// optionalIndex starts with an empty holder; queries fail until a reload installs a build.
	optionalIndex
)

// serveIndexMode is requireIndex unless watch.start_empty opts into an empty start.
func serveIndexMode(cfg *config.Config) indexMode {
	if cfg.Watch.StartEmpty {
		return optionalIndex
	}
	return requireIndex
}

// initializeComponents opens the metadata store and the encoder, and unless mode is noIndex
// loads the committed build and constructs the query engine.
func initializeComponents(cfg *config.Config, logger *zap.Logger, mode indexMode) (*Components, error) {
	if err := os.MkdirAll(cfg.Storage.IndexDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index dir: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c := &Components{Config: cfg, Storage: store, Embedder: embedder}
	if mode == noIndex {
		return c, nil
	}

	snap, err := indexer.LoadSnapshot(cfg.Storage.IndexDir, embedder.Dimensions())
	switch {
	case err == nil:
		logger.Info("index loaded",
			zap.String("build_id", snap.BuildID),
			zap.Int("vectors", snap.Index.Size()))
	case isConfigError(err) && mode == optionalIndex:
		logger.Warn("starting without an index build, searches fail until one is committed", zap.Error(err))
	case isConfigError(err):
		c.Close()
		return nil, fmt.Errorf("no usable index build, run `ronbun build` first: %w", err)
	default:
		c.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	c.Holder = indexer.NewHolder(snap)
	c.Engine = search.NewEngine(
		store,
		embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize),
		c.Holder,
		&cfg.Search,
		search.WithLogger(logger),
	)
	return c, nil
}
