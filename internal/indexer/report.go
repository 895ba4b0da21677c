package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hyperjump/ronbun/internal/models"
)

// Report summarizes a committed build. It is written next to the index files and is
// informational only; loading never validates against it.
type Report struct {
	ModelUsed          string      `json:"model_used"`
	TotalDocuments     int         `json:"total_documents"`
	EmbeddingDimension int         `json:"embedding_dimension"`
	IndexSize          int         `json:"index_size"`
	Timestamp          time.Time   `json:"timestamp"`
	BuildID            string      `json:"build_id"`
	DocumentsByYear    map[int]int `json:"documents_by_year"`
	HasAbstractCount   int         `json:"has_abstract_count"`
}

func newReport(buildID, model string, dim, size int, docs []*models.Document, at time.Time) *Report {
	r := &Report{
		ModelUsed:          model,
		TotalDocuments:     len(docs),
		EmbeddingDimension: dim,
		IndexSize:          size,
		Timestamp:          at.UTC(),
		BuildID:            buildID,
		DocumentsByYear:    make(map[int]int),
	}
	for _, d := range docs {
		if d.Year != nil {
			r.DocumentsByYear[*d.Year]++
		}
		if d.HasAbstract() {
			r.HasAbstractCount++
		}
	}
	return r
}

func (r *Report) save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return writeFileSync(path, data)
}

// LoadReport reads a report.json written by a build.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &r, nil
}
