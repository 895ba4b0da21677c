package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/ronbun/internal/models"
	"github.com/hyperjump/ronbun/internal/storage"
)

// ImportStats counts what an import did.
type ImportStats struct {
	Read       int `json:"read"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Imported   int `json:"imported"`
}

// Importer loads paper records into the metadata store.
type Importer struct {
	store  storage.Storage
	logger *zap.Logger
}

// NewImporter creates an importer writing to store. logger may be nil.
func NewImporter(store storage.Storage, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{store: store, logger: logger}
}

// ImportFile imports the JSON array of records in path.
func (im *Importer) ImportFile(ctx context.Context, path string) (*ImportStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()
	return im.Import(ctx, f)
}

// Import reads a JSON array of records from r. Records are deduplicated by arxiv_id (first
// wins), title and abstract are cleaned, and the year is taken from the published date.
// Records without an arxiv_id or title are skipped.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*ImportStats, error) {
	var records []models.DocumentInput
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	stats := &ImportStats{Read: len(records)}
	seen := make(map[string]struct{}, len(records))
	for i := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rec := records[i]
		rec.ExternalID = strings.TrimSpace(rec.ExternalID)
		if rec.ExternalID == "" {
			stats.Skipped++
			continue
		}
		if _, dup := seen[rec.ExternalID]; dup {
			stats.Duplicates++
			continue
		}
		seen[rec.ExternalID] = struct{}{}

		rec.Title = CleanText(rec.Title)
		rec.Abstract = CleanText(rec.Abstract)
		if rec.Title == "" {
			stats.Skipped++
			im.logger.Debug("skipping record", zap.Int("index", i), zap.String("arxiv_id", rec.ExternalID))
			continue
		}
		rec.Categories = cleanList(rec.Categories)
		rec.Authors = cleanList(rec.Authors)

		if _, err := im.store.UpsertDocument(ctx, &rec, ExtractYear(rec.Published)); err != nil {
			return stats, fmt.Errorf("import %s: %w", rec.ExternalID, err)
		}
		stats.Imported++
	}

	im.logger.Info("import finished",
		zap.Int("read", stats.Read),
		zap.Int("imported", stats.Imported),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = CleanText(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
