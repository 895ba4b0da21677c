// Package indexer builds, commits and loads vector index snapshots of the document corpus.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/ronbun/internal/embedding"
	"github.com/hyperjump/ronbun/internal/metrics"
	"github.com/hyperjump/ronbun/internal/storage"
	"github.com/hyperjump/ronbun/internal/vector"
)

const (
	defaultBatchSize  = 32
	defaultKeepBuilds = 3

	// tmpGracePeriod is how old an uncommitted temp build must be before prune removes it.
	tmpGracePeriod = time.Hour
)

// Builder turns the corpus into a committed index build. Builds are single-writer: run at
// most one Build per index root at a time.
type Builder struct {
	store      storage.DocumentReader
	encoder    embedding.Embedder
	root       string
	batchSize  int
	workers    int
	keepBuilds int
	logger     *zap.Logger
	now        func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets a logger for build progress.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithBatchSize sets how many texts go to the encoder per call.
func WithBatchSize(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithWorkers sets the number of batches encoded concurrently.
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithKeepBuilds sets how many committed builds are retained after a commit. Zero keeps all.
func WithKeepBuilds(n int) BuilderOption {
	return func(b *Builder) {
		if n >= 0 {
			b.keepBuilds = n
		}
	}
}

// NewBuilder creates a builder that reads documents from store, encodes them with encoder and
// commits builds under root.
func NewBuilder(store storage.DocumentReader, encoder embedding.Embedder, root string, opts ...BuilderOption) *Builder {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	b := &Builder{
		store:      store,
		encoder:    encoder,
		root:       root,
		batchSize:  defaultBatchSize,
		workers:    workers,
		keepBuilds: defaultKeepBuilds,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build encodes every document, writes the vector index, id map and report into a new build
// and publishes it by replacing CURRENT. A failed build leaves the previous commit serving.
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	if b.root == "" {
		return nil, fmt.Errorf("index root is empty: %w", ErrConfig)
	}
	dim := b.encoder.Dimensions()
	if dim <= 0 {
		return nil, fmt.Errorf("encoder reports dimension %d: %w", dim, ErrConfig)
	}
	start := b.now()

	docs, err := b.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	texts := make([]string, len(docs))
	ids := make([]uint64, len(docs))
	for i, d := range docs {
		texts[i] = NormalizeDocument(d)
		ids[i] = uint64(d.ID)
	}
	b.logger.Info("building index",
		zap.Int("documents", len(docs)),
		zap.String("model", b.encoder.ModelName()),
		zap.Int("dimension", dim))

	vectors, err := b.encodeAll(ctx, texts, dim)
	if err != nil {
		return nil, err
	}
	idx, err := vector.Build(dim, vectors)
	if err != nil {
		return nil, fmt.Errorf("build vector index: %w", err)
	}
	idMap := vector.NewIDMap(b.encoder.ModelName(), dim, ids)
	if err := idMap.Validate(idx); err != nil {
		return nil, err
	}

	buildID := newBuildID(start)
	report := newReport(buildID, b.encoder.ModelName(), dim, idx.Size(), docs, start)
	if err := b.commit(buildID, idx, idMap, report); err != nil {
		return nil, err
	}
	if err := b.prune(buildID); err != nil {
		b.logger.Warn("prune old builds", zap.Error(err))
	}

	took := b.now().Sub(start)
	metrics.IndexBuildDuration.Observe(took.Seconds())
	b.logger.Info("index build committed",
		zap.String("build_id", buildID),
		zap.Int("vectors", idx.Size()),
		zap.Duration("took", took))
	return report, nil
}

// encodeAll encodes texts in batches on a worker pool. Each batch writes its own range of the
// result, so output order matches input order regardless of completion order.
func (b *Builder) encodeAll(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := ants.NewPool(b.workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	out := make([][]float32, len(texts))
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		lo, hi := start, end
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vecs, err := b.encoder.EmbedBatch(ctx, texts[lo:hi])
			if err != nil {
				fail(fmt.Errorf("encode batch [%d:%d]: %w", lo, hi, err))
				return
			}
			if len(vecs) != hi-lo {
				fail(fmt.Errorf("batch [%d:%d] returned %d vectors: %w", lo, hi, len(vecs), ErrEncoderOutput))
				return
			}
			for i, v := range vecs {
				if len(v) != dim {
					fail(fmt.Errorf("vector %d has length %d, want %d: %w", lo+i, len(v), dim, ErrEncoderOutput))
					return
				}
				if err := vector.CheckFinite(v); err != nil {
					fail(fmt.Errorf("vector %d: %v: %w", lo+i, err, ErrEncoderOutput))
					return
				}
				out[lo+i] = v
			}
			b.logger.Debug("encoded batch", zap.Int("from", lo), zap.Int("to", hi))
		})
		if submitErr != nil {
			wg.Done()
			fail(fmt.Errorf("submit batch: %w", submitErr))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// commit writes the build into a temp directory, renames it into place and then swaps CURRENT.
func (b *Builder) commit(buildID string, idx *vector.FlatIndex, idMap *vector.IDMap, report *Report) (err error) {
	buildsDir := filepath.Join(b.root, BuildsDir)
	if err := os.MkdirAll(buildsDir, 0755); err != nil {
		return fmt.Errorf("create builds dir: %w", err)
	}
	tmpDir := filepath.Join(buildsDir, buildID+tmpSuffix)
	if err := os.Mkdir(tmpDir, 0755); err != nil {
		return fmt.Errorf("create build dir: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	if err := idx.Save(filepath.Join(tmpDir, VectorsFile)); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := idMap.Save(filepath.Join(tmpDir, IDMapFile)); err != nil {
		return fmt.Errorf("write id map: %w", err)
	}
	if err := report.save(filepath.Join(tmpDir, ReportFile)); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := syncDir(tmpDir); err != nil {
		return fmt.Errorf("sync build dir: %w", err)
	}

	finalDir := BuildDir(b.root, buildID)
	if err := os.Rename(tmpDir, finalDir); err != nil {
		return fmt.Errorf("rename build dir: %w", err)
	}
	if err := syncDir(buildsDir); err != nil {
		return fmt.Errorf("sync builds dir: %w", err)
	}

	currentTmp := filepath.Join(b.root, CurrentFile+tmpSuffix)
	if err := writeFileSync(currentTmp, []byte(buildID+"\n")); err != nil {
		_ = os.RemoveAll(finalDir)
		return fmt.Errorf("write %s: %w", CurrentFile, err)
	}
	if err := os.Rename(currentTmp, filepath.Join(b.root, CurrentFile)); err != nil {
		_ = os.Remove(currentTmp)
		_ = os.RemoveAll(finalDir)
		return fmt.Errorf("publish %s: %w", CurrentFile, err)
	}
	return syncDir(b.root)
}

// prune removes committed builds beyond keepBuilds, oldest first, plus abandoned temp dirs.
// The build named by current is never removed.
func (b *Builder) prune(current string) error {
	buildsDir := filepath.Join(b.root, BuildsDir)
	entries, err := os.ReadDir(buildsDir)
	if err != nil {
		return err
	}
	cutoff := b.now().Add(-tmpGracePeriod)
	for _, e := range entries {
		if !e.IsDir() || filepath.Ext(e.Name()) != tmpSuffix {
			continue
		}
		// A recent temp dir may belong to a build still running in another process.
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(buildsDir, e.Name())); err == nil {
			b.logger.Debug("removed stale temp build", zap.String("dir", e.Name()))
		}
	}
	if b.keepBuilds == 0 {
		return nil
	}
	ids, err := ListBuilds(b.root)
	if err != nil {
		return err
	}
	for len(ids) > b.keepBuilds {
		victim := ids[0]
		ids = ids[1:]
		if victim == current {
			continue
		}
		if err := os.RemoveAll(BuildDir(b.root, victim)); err != nil {
			return err
		}
		b.logger.Debug("pruned build", zap.String("build_id", victim))
	}
	return nil
}

// newBuildID returns a sortable id: UTC timestamp plus a random suffix.
func newBuildID(at time.Time) string {
	return at.UTC().Format("20060102T150405.000Z") + "-" + uuid.New().String()[:8]
}
