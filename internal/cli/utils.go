// Package cli provides output helpers for the ronbun command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/ronbun/internal/indexer"
	"github.com/hyperjump/ronbun/internal/models"
	"github.com/hyperjump/ronbun/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const abstractPreviewWords = 40

// ParseOutputFormat returns the format named by s, defaulting to text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "", string(OutputText):
		return OutputText, nil
	case string(OutputJSON):
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms", response.Total, response.QueryTime)
	if response.Stale > 0 {
		fmt.Fprintf(w, " (%d stale entries skipped)", response.Stale)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	return nil
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	doc := result.Document
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f | arXiv: %s\n", result.Rank, result.Score, doc.ExternalID)
	fmt.Fprintf(w, "Title: %s\n", utils.Truncate(doc.Title, 160))
	if len(doc.Authors) > 0 {
		fmt.Fprintf(w, "Authors: %s\n", strings.Join(doc.Authors, ", "))
	}
	meta := make([]string, 0, 2)
	if doc.Year != nil {
		meta = append(meta, fmt.Sprintf("Year: %d", *doc.Year))
	}
	if len(doc.Categories) > 0 {
		meta = append(meta, "Categories: "+strings.Join(doc.Categories, ", "))
	}
	if len(meta) > 0 {
		fmt.Fprintln(w, strings.Join(meta, " | "))
	}
	if doc.Abstract != "" {
		fmt.Fprintf(w, "\n%s\n", TruncateWords(doc.Abstract, abstractPreviewWords))
	}
	fmt.Fprintln(w)
}

// WriteReport writes a build report to w in the given format.
func WriteReport(w io.Writer, report *indexer.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Build:       %s\n", report.BuildID)
	fmt.Fprintf(w, "Model:       %s (%d dimensions)\n", report.ModelUsed, report.EmbeddingDimension)
	fmt.Fprintf(w, "Documents:   %d (%d with abstract)\n", report.TotalDocuments, report.HasAbstractCount)
	fmt.Fprintf(w, "Index size:  %d vectors\n", report.IndexSize)
	fmt.Fprintf(w, "Built at:    %s\n", report.Timestamp.Format("2006-01-02 15:04:05 MST"))
	return nil
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
