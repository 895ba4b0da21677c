package search

import (
	"fmt"

	"github.com/hyperjump/ronbun/internal/config"
	"github.com/hyperjump/ronbun/internal/indexer"
	"github.com/hyperjump/ronbun/internal/models"
)

// ProcessQuery validates the query, applies the configured result count limits, and returns
// the text to encode.
func ProcessQuery(query *models.SearchQuery, cfg *config.SearchConfig) (string, error) {
	if err := query.Validate(cfg.DefaultLimit, cfg.MaxLimit); err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrInvalidQuery)
	}
	return indexer.Preprocess(query.Query), nil
}
