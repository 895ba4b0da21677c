package indexer

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hyperjump/ronbun/internal/metrics"
	"github.com/hyperjump/ronbun/internal/vector"
)

// Snapshot is one loaded, validated build. It is immutable and safe to share between
// concurrent queries.
type Snapshot struct {
	BuildID  string
	Index    *vector.FlatIndex
	IDs      *vector.IDMap
	Report   *Report // nil when report.json is absent
	LoadedAt time.Time
}

// LoadSnapshot loads the build named by <root>/CURRENT. encoderDim is the dimension of the
// live query encoder; a build of a different dimension is rejected with
// vector.ErrDimensionMismatch.
func LoadSnapshot(root string, encoderDim int) (*Snapshot, error) {
	id, err := ReadCurrent(root)
	if err != nil {
		return nil, err
	}
	return LoadBuild(root, id, encoderDim)
}

// LoadBuild loads and validates a specific committed build.
func LoadBuild(root, buildID string, encoderDim int) (*Snapshot, error) {
	dir := BuildDir(root, buildID)

	idx, err := vector.LoadFlatIndex(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, missingAsConfig(buildID, err)
	}
	ids, err := vector.LoadIDMap(filepath.Join(dir, IDMapFile))
	if err != nil {
		return nil, missingAsConfig(buildID, err)
	}
	if err := ids.Validate(idx); err != nil {
		return nil, fmt.Errorf("build %s: %w", buildID, err)
	}
	if encoderDim > 0 && idx.Dimensions() != encoderDim {
		return nil, fmt.Errorf("build %s has dimension %d, encoder produces %d: %w",
			buildID, idx.Dimensions(), encoderDim, vector.ErrDimensionMismatch)
	}

	report, err := LoadReport(filepath.Join(dir, ReportFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("build %s: %w", buildID, err)
	}

	return &Snapshot{
		BuildID:  buildID,
		Index:    idx,
		IDs:      ids,
		Report:   report,
		LoadedAt: time.Now(),
	}, nil
}

func missingAsConfig(buildID string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("build %s is incomplete: %v: %w", buildID, err, ErrConfig)
	}
	return fmt.Errorf("build %s: %w", buildID, err)
}

// Holder publishes the serving snapshot. Readers take the pointer once per query and keep
// using it even if a reload swaps in a newer one.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder returns a holder serving s, which may be nil.
func NewHolder(s *Snapshot) *Holder {
	h := &Holder{}
	if s != nil {
		h.current.Store(s)
	}
	return h
}

// Load returns the serving snapshot or nil when none has been loaded.
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Swap publishes s and returns the previous snapshot.
func (h *Holder) Swap(s *Snapshot) *Snapshot {
	return h.current.Swap(s)
}

// Invalidate withdraws s if it is still serving, so queries fail with no snapshot until the next
// reload. It reports whether s was withdrawn.
func (h *Holder) Invalidate(s *Snapshot) bool {
	if s == nil || !h.current.CompareAndSwap(s, nil) {
		return false
	}
	metrics.IndexVectors.Set(0)
	return true
}

// Reload loads the build named by CURRENT and publishes it unless it is already serving.
// It reports whether a new snapshot was swapped in. On failure the old snapshot keeps serving.
func (h *Holder) Reload(root string, encoderDim int) (bool, error) {
	id, err := ReadCurrent(root)
	if err != nil {
		metrics.IndexReloadsTotal.WithLabelValues("error").Inc()
		return false, err
	}
	if cur := h.Load(); cur != nil && cur.BuildID == id {
		metrics.IndexReloadsTotal.WithLabelValues("unchanged").Inc()
		return false, nil
	}
	snap, err := LoadBuild(root, id, encoderDim)
	if err != nil {
		metrics.IndexReloadsTotal.WithLabelValues("error").Inc()
		return false, err
	}
	h.Swap(snap)
	metrics.IndexReloadsTotal.WithLabelValues("success").Inc()
	metrics.IndexVectors.Set(float64(snap.Index.Size()))
	return true, nil
}
