// Package search provides the semantic query engine over a loaded index snapshot.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/ronbun/internal/config"
	"github.com/hyperjump/ronbun/internal/embedding"
	"github.com/hyperjump/ronbun/internal/indexer"
	"github.com/hyperjump/ronbun/internal/metrics"
	"github.com/hyperjump/ronbun/internal/models"
	"github.com/hyperjump/ronbun/internal/storage"
	"github.com/hyperjump/ronbun/internal/vector"
)

// Engine answers top-k semantic queries against the snapshot published in its holder.
// It is safe for concurrent use.
type Engine struct {
	store   storage.DocumentReader
	encoder embedding.Embedder
	holder  *indexer.Holder
	config  *config.SearchConfig
	logger  *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for query diagnostics.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(
	store storage.DocumentReader,
	encoder embedding.Embedder,
	holder *indexer.Holder,
	cfg *config.SearchConfig,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		store:   store,
		encoder: encoder,
		holder:  holder,
		config:  cfg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search encodes the query, scans the index for k*overfetch candidates, resolves them to
// documents, applies filters and returns at most k results. Hits whose document no longer
// exists are dropped and counted in the response. A blank query returns an empty response.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	resp, outcome, err := e.search(ctx, query)
	metrics.QueryRequestsTotal.WithLabelValues(outcome).Inc()
	metrics.QueryDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		return nil, err
	}
	resp.QueryTime = time.Since(startTime).Milliseconds()
	return resp, nil
}

func (e *Engine) search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, string, error) {
	if query.IsBlank() {
		return &models.SearchResponse{Results: []*models.SearchResult{}, Query: query.Query}, "empty", nil
	}
	text, err := ProcessQuery(query, e.config)
	if err != nil {
		return nil, "invalid", err
	}
	snap := e.holder.Load()
	if snap == nil {
		return nil, "no_index", ErrNoSnapshot
	}

	queryVec, err := e.encode(ctx, text)
	if err != nil {
		return nil, "encode_error", err
	}

	fetch := query.K * e.overfetch()
	if size := snap.Index.Size(); fetch > size {
		fetch = size
	}
	hits, err := e.scan(ctx, snap, queryVec, fetch)
	if err != nil {
		if errors.Is(err, vector.ErrDimensionMismatch) {
			return nil, "dimension_mismatch", err
		}
		return nil, "search_error", err
	}

	resp := &models.SearchResponse{
		Results: make([]*models.SearchResult, 0, query.K),
		Query:   query.Query,
		BuildID: snap.BuildID,
	}
	for _, hit := range hits {
		if len(resp.Results) == query.K {
			break
		}
		id, ok := snap.IDs.Lookup(hit.Slot)
		if !ok {
			if e.holder.Invalidate(snap) {
				e.logger.Error("withdrew corrupt snapshot, queries fail until the next reload",
					zap.String("build_id", snap.BuildID),
					zap.Int("slot", hit.Slot),
					zap.Int("id_map_len", snap.IDs.Len()))
			}
			return nil, "corrupt", fmt.Errorf("slot %d outside id map of %d entries in build %s: %w",
				hit.Slot, snap.IDs.Len(), snap.BuildID, ErrIndexCorruption)
		}
		doc, err := e.store.GetDocument(ctx, int64(id))
		if errors.Is(err, storage.ErrDocumentNotFound) {
			resp.Stale++
			metrics.StaleReferencesTotal.Inc()
			e.logger.Debug("dropping stale hit", zap.Uint64("doc_id", id), zap.Int("slot", hit.Slot))
			continue
		}
		if err != nil {
			return nil, "search_error", fmt.Errorf("resolve document %d: %w", id, err)
		}
		if !query.Filters.Match(doc) {
			continue
		}
		resp.Results = append(resp.Results, &models.SearchResult{
			Document: doc,
			Score:    hit.Score,
			Rank:     len(resp.Results) + 1,
			Slot:     hit.Slot,
		})
	}
	resp.Total = len(resp.Results)
	return resp, "ok", nil
}

// encode runs the encoder under encode_timeout. The encoder runs on its own goroutine; a call
// that ignores ctx is abandoned at the deadline and its result discarded.
func (e *Engine) encode(ctx context.Context, text string) ([]float32, error) {
	if e.config.EncodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.EncodeTimeout)
		defer cancel()
	}
	type result struct {
		vec []float32
		err error
	}
	done := make(chan result, 1)
	go func() {
		vec, err := e.encoder.Embed(ctx, text)
		done <- result{vec: vec, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncodeFailure, r.err)
		}
		if err := vector.CheckFinite(r.vec); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncodeFailure, err)
		}
		return r.vec, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrEncodeFailure, ctx.Err())
	}
}

func (e *Engine) scan(ctx context.Context, snap *indexer.Snapshot, queryVec []float32, k int) ([]vector.Hit, error) {
	if e.config.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.SearchTimeout)
		defer cancel()
	}
	hits, err := snap.Index.SearchContext(ctx, queryVec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

func (e *Engine) overfetch() int {
	if e.config.Overfetch < 1 {
		return 1
	}
	return e.config.Overfetch
}
