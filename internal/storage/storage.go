// Package storage defines the metadata store interface for papers and its SQLite backend.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/ronbun/internal/models"
)

// ErrDocumentNotFound is returned when no document has the requested id.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentReader is the read side used by the index builder and the query engine.
type DocumentReader interface {
	// ListDocuments returns every document ordered by ascending id.
	ListDocuments(ctx context.Context) ([]*models.Document, error)
	// GetDocument returns the document with id or ErrDocumentNotFound.
	GetDocument(ctx context.Context, id int64) (*models.Document, error)
}

// Facets lists the distinct filter values present in the store.
type Facets struct {
	Years      []int    `json:"years"`
	Categories []string `json:"categories"`
	Authors    []string `json:"authors"`
}

// Storage defines document persistence operations.
type Storage interface {
	DocumentReader

	UpsertDocument(ctx context.Context, in *models.DocumentInput, year *int) (int64, error)
	CountDocuments(ctx context.Context) (int64, error)
	Facets(ctx context.Context) (*Facets, error)

	Close() error
}
