package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	idMapMagic   = "RNID"
	idMapVersion = uint32(1)
	// maxModelNameLen bounds the model name read from disk.
	maxModelNameLen = 4096
)

// IDMap correlates index slots with external document ids. IDs[i] is the document id
// stored at slot i. It is built in the same pass as the FlatIndex and never reordered.
type IDMap struct {
	ModelName string
	Dimension int
	IDs       []uint64
}

// NewIDMap creates an id map for the given model and dimension.
func NewIDMap(modelName string, dimension int, ids []uint64) *IDMap {
	out := make([]uint64, len(ids))
	copy(out, ids)
	return &IDMap{ModelName: modelName, Dimension: dimension, IDs: out}
}

// Len returns the number of slots in the map.
func (m *IDMap) Len() int {
	return len(m.IDs)
}

// Lookup returns the document id for slot, or false if slot is out of bounds.
func (m *IDMap) Lookup(slot int) (uint64, bool) {
	if slot < 0 || slot >= len(m.IDs) {
		return 0, false
	}
	return m.IDs[slot], true
}

// Validate checks that the map lines up with idx slot for slot.
func (m *IDMap) Validate(idx Searcher) error {
	if len(m.IDs) != idx.Size() {
		return fmt.Errorf("id map has %d entries, index has %d vectors: %w", len(m.IDs), idx.Size(), ErrCorruptIndex)
	}
	if m.Dimension != idx.Dimensions() {
		return fmt.Errorf("id map dimension %d, index dimension %d: %w", m.Dimension, idx.Dimensions(), ErrCorruptIndex)
	}
	return nil
}

// Save writes the map to path and syncs it to disk. Layout: magic (4 bytes), version (u32),
// model name length (u32), model name bytes, dimension (u32), count (u32), then count u64 ids,
// all little-endian.
func (m *IDMap) Save(path string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create id map file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close id map file: %w", cerr)
		}
	}()
	w := bufio.NewWriter(file)
	if err := m.write(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush id map file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync id map file: %w", err)
	}
	return nil
}

func (m *IDMap) write(w io.Writer) error {
	name := []byte(m.ModelName)
	if len(name) > maxModelNameLen {
		return fmt.Errorf("model name too long (%d bytes)", len(name))
	}
	if _, err := w.Write([]byte(idMapMagic)); err != nil {
		return fmt.Errorf("write id map magic: %w", err)
	}
	for _, v := range []uint32{idMapVersion, uint32(len(name))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write id map header: %w", err)
		}
	}
	if _, err := w.Write(name); err != nil {
		return fmt.Errorf("write model name: %w", err)
	}
	for _, v := range []uint32{uint32(m.Dimension), uint32(len(m.IDs))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write id map header: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, m.IDs); err != nil {
		return fmt.Errorf("write ids: %w", err)
	}
	return nil
}

// LoadIDMap reads a map written by Save. Truncated files, trailing bytes, or an unknown
// magic or version fail with ErrCorruptIndex.
func LoadIDMap(path string) (*IDMap, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open id map file: %w", err)
	}
	defer file.Close()
	r := bufio.NewReader(file)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("read id map magic: %v: %w", err, ErrCorruptIndex)
	}
	if string(magic) != idMapMagic {
		return nil, fmt.Errorf("unrecognized id map magic %q: %w", magic, ErrCorruptIndex)
	}
	var version, nameLen uint32
	if err := readUint32s(r, &version, &nameLen); err != nil {
		return nil, err
	}
	if version != idMapVersion {
		return nil, fmt.Errorf("unsupported id map version %d: %w", version, ErrCorruptIndex)
	}
	if nameLen > maxModelNameLen {
		return nil, fmt.Errorf("model name length %d exceeds limit: %w", nameLen, ErrCorruptIndex)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("read model name: %v: %w", err, ErrCorruptIndex)
	}
	var dim, count uint32
	if err := readUint32s(r, &dim, &count); err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat id map file: %w", err)
	}
	want := int64(4+4+4) + int64(nameLen) + 8 + int64(count)*8
	if info.Size() != want {
		return nil, fmt.Errorf("id map file is %d bytes, header implies %d: %w", info.Size(), want, ErrCorruptIndex)
	}
	ids := make([]uint64, count)
	if err := binary.Read(r, binary.LittleEndian, ids); err != nil {
		return nil, fmt.Errorf("read ids: %v: %w", err, ErrCorruptIndex)
	}
	return &IDMap{ModelName: string(name), Dimension: int(dim), IDs: ids}, nil
}

func readUint32s(r io.Reader, vals ...*uint32) error {
	for _, v := range vals {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("read id map header: %v: %w", err, ErrCorruptIndex)
		}
	}
	return nil
}
