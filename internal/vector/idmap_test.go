package vector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDMap_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idmap.bin")
	m := NewIDMap("all-MiniLM-L6-v2", 384, []uint64{3, 7, 11, 1 << 40})
	require.NoError(t, m.Save(path))

	loaded, err := LoadIDMap(path)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	id, ok := loaded.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, uint64(1<<40), id)
	_, ok = loaded.Lookup(4)
	assert.False(t, ok)
	_, ok = loaded.Lookup(-1)
	assert.False(t, ok)
}

func TestIDMap_EmptyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idmap.bin")
	require.NoError(t, NewIDMap("", 2, nil).Save(path))
	loaded, err := LoadIDMap(path)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
	assert.Equal(t, 2, loaded.Dimension)
}

func TestIDMap_Validate(t *testing.T) {
	idx, err := Build(2, [][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)

	require.NoError(t, NewIDMap("m", 2, []uint64{1, 2}).Validate(idx))
	require.ErrorIs(t, NewIDMap("m", 2, []uint64{1}).Validate(idx), ErrCorruptIndex)
	require.ErrorIs(t, NewIDMap("m", 3, []uint64{1, 2}).Validate(idx), ErrCorruptIndex)
}

func TestLoadIDMap_Corrupt(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.bin")
	require.NoError(t, NewIDMap("model", 4, []uint64{1, 2, 3}).Save(good))
	data, err := os.ReadFile(good)
	require.NoError(t, err)

	cases := map[string][]byte{
		"truncated":  data[:len(data)-3],
		"trailing":   append(append([]byte{}, data...), 1),
		"bad magic":  append([]byte("XXXX"), data[4:]...),
		"header cut": data[:10],
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(dir, "case.bin")
			require.NoError(t, os.WriteFile(p, content, 0600))
			_, err := LoadIDMap(p)
			require.ErrorIs(t, err, ErrCorruptIndex)
		})
	}
}
