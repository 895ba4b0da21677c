package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/hyperjump/ronbun/pkg/utils"
)

const (
	flatMagic   = "RNVX"
	flatVersion = uint32(1)
	// flatHeaderSize is magic (4) + version (4) + dimension (4) + count (4).
	flatHeaderSize = 16

	// ctxCheckEvery is how many slots are scanned between context checks.
	ctxCheckEvery = 4096
)

// FlatIndex is an immutable, exact inner-product index over L2-normalized vectors.
// Vectors are stored contiguously in slot order. It is safe for concurrent use.
type FlatIndex struct {
	dimensions int
	count      int
	data       []float32
}

// Build creates a flat index from vectors. Every vector must have the given dimension and
// finite components. Each vector is copied and normalized to unit length; zero vectors stay zero.
func Build(dimensions int, vectors [][]float32) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	data := make([]float32, len(vectors)*dimensions)
	for i, vec := range vectors {
		if len(vec) != dimensions {
			return nil, fmt.Errorf("vector %d has %d dimensions, expected %d: %w",
				i, len(vec), dimensions, ErrDimensionMismatch)
		}
		if err := CheckFinite(vec); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		row := data[i*dimensions : (i+1)*dimensions]
		copy(row, vec)
		utils.NormalizeL2(row)
	}
	return &FlatIndex{dimensions: dimensions, count: len(vectors), data: data}, nil
}

// Size returns the number of vectors (slots) in the index.
func (f *FlatIndex) Size() int {
	return f.count
}

// Dimensions returns the vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Vector returns a copy of the stored vector at slot.
func (f *FlatIndex) Vector(slot int) ([]float32, bool) {
	if slot < 0 || slot >= f.count {
		return nil, false
	}
	out := make([]float32, f.dimensions)
	copy(out, f.row(slot))
	return out, true
}

func (f *FlatIndex) row(slot int) []float32 {
	return f.data[slot*f.dimensions : (slot+1)*f.dimensions]
}

// Search returns the top min(k, Size()) slots by cosine similarity, best first.
// Equal scores are ordered by ascending slot.
func (f *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	return f.SearchContext(context.Background(), query, k)
}

// SearchContext is Search with cancellation checked during the scan.
func (f *FlatIndex) SearchContext(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query has %d dimensions, index has %d: %w",
			len(query), f.dimensions, ErrDimensionMismatch)
	}
	if err := CheckFinite(query); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if k <= 0 || f.count == 0 {
		return nil, nil
	}
	q := make([]float32, len(query))
	copy(q, query)
	utils.NormalizeL2(q)

	hits := make([]Hit, f.count)
	for slot := 0; slot < f.count; slot++ {
		if slot%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hits[slot] = Hit{Slot: slot, Score: clampScore(utils.Dot(q, f.row(slot)))}
	}
	// hits are in slot order, so a stable sort keeps ascending slots among equal scores.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k:k], nil
}

// CheckFinite returns ErrNonFiniteVector if any component of vec is NaN or infinite.
func CheckFinite(vec []float32) error {
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("component %d is %v: %w", i, v, ErrNonFiniteVector)
		}
	}
	return nil
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(-1, math.Min(1, s))
}

// Save writes the index to path in the flat binary layout and syncs it to disk.
// Layout: magic (4 bytes), version (u32), dimension (u32), count (u32), then
// count*dimension little-endian float32 values in slot order.
func (f *FlatIndex) Save(path string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close index file: %w", cerr)
		}
	}()
	w := bufio.NewWriter(file)
	if _, err := f.WriteTo(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync index file: %w", err)
	}
	return nil
}

// WriteTo writes the binary layout to w.
func (f *FlatIndex) WriteTo(w io.Writer) (int64, error) {
	header := make([]byte, flatHeaderSize)
	copy(header[0:4], flatMagic)
	binary.LittleEndian.PutUint32(header[4:8], flatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(f.dimensions))
	binary.LittleEndian.PutUint32(header[12:16], uint32(f.count))
	n, err := w.Write(header)
	if err != nil {
		return int64(n), fmt.Errorf("write index header: %w", err)
	}
	written := int64(n)
	for slot := 0; slot < f.count; slot++ {
		n, err := w.Write(float32SliceToBytes(f.row(slot)))
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("write vector %d: %w", slot, err)
		}
	}
	return written, nil
}

// LoadFlatIndex reads an index written by Save. The file size must match the header exactly.
func LoadFlatIndex(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat index file: %w", err)
	}
	header := make([]byte, flatHeaderSize)
	if _, err := io.ReadFull(file, header); err != nil {
		return nil, fmt.Errorf("read index header: %v: %w", err, ErrCorruptIndex)
	}
	if string(header[0:4]) != flatMagic {
		return nil, fmt.Errorf("unrecognized index magic %q: %w", header[0:4], ErrCorruptIndex)
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != flatVersion {
		return nil, fmt.Errorf("unsupported index version %d: %w", v, ErrCorruptIndex)
	}
	dim := int64(binary.LittleEndian.Uint32(header[8:12]))
	count := int64(binary.LittleEndian.Uint32(header[12:16]))
	if dim == 0 {
		return nil, fmt.Errorf("index header has zero dimension: %w", ErrCorruptIndex)
	}
	want := flatHeaderSize + count*dim*4
	if info.Size() != want {
		return nil, fmt.Errorf("index file is %d bytes, header implies %d: %w", info.Size(), want, ErrCorruptIndex)
	}
	buf := make([]byte, count*dim*4)
	if _, err := io.ReadFull(bufio.NewReader(file), buf); err != nil {
		return nil, fmt.Errorf("read vectors: %v: %w", err, ErrCorruptIndex)
	}
	data := bytesToFloat32Slice(buf)
	if err := CheckFinite(data); err != nil {
		return nil, fmt.Errorf("stored vectors: %v: %w", err, ErrCorruptIndex)
	}
	return &FlatIndex{
		dimensions: int(dim),
		count:      int(count),
		data:       data,
	}, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
