package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// On-disk layout of an index root:
//
//	<root>/CURRENT                 id of the serving build
//	<root>/builds/<id>/vectors.bin
//	<root>/builds/<id>/idmap.bin
//	<root>/builds/<id>/report.json
const (
	CurrentFile = "CURRENT"
	BuildsDir   = "builds"
	VectorsFile = "vectors.bin"
	IDMapFile   = "idmap.bin"
	ReportFile  = "report.json"

	tmpSuffix = ".tmp"
)

// BuildDir returns the directory of a committed build.
func BuildDir(root, buildID string) string {
	return filepath.Join(root, BuildsDir, buildID)
}

// ReadCurrent returns the build id named by <root>/CURRENT.
func ReadCurrent(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, CurrentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no committed build under %s: %w", root, ErrConfig)
		}
		return "", fmt.Errorf("read %s: %w", CurrentFile, err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasSuffix(id, tmpSuffix) {
		return "", fmt.Errorf("invalid build id %q in %s: %w", id, CurrentFile, ErrConfig)
	}
	return id, nil
}

// ListBuilds returns committed build ids under root in ascending (chronological) order.
func ListBuilds(root string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, BuildsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasSuffix(e.Name(), tmpSuffix) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err = f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// syncDir flushes directory entries so renames inside dir survive a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
