// Package models defines core data structures for documents, queries, and search results.
package models

import "time"

// Document is a paper as held by the metadata store. The search core only reads it.
type Document struct {
	ID         int64     `json:"id" db:"id"`
	ExternalID string    `json:"arxiv_id" db:"arxiv_id"`
	Title      string    `json:"title" db:"title"`
	Abstract   string    `json:"abstract,omitempty" db:"abstract"`
	Categories []string  `json:"categories,omitempty" db:"categories"`
	Year       *int      `json:"year,omitempty" db:"year"` // nil when the publication year is unknown
	Published  string    `json:"published,omitempty" db:"published"`
	PDFURL     string    `json:"pdf_url,omitempty" db:"pdf_url"`
	Authors    []string  `json:"authors,omitempty" db:"-"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// HasAbstract reports whether the document carries a non-empty abstract.
func (d *Document) HasAbstract() bool {
	return d.Abstract != ""
}

// DocumentInput is the input for importing a document into the metadata store.
type DocumentInput struct {
	ExternalID string   `json:"arxiv_id"`
	Title      string   `json:"title"`
	Abstract   string   `json:"abstract,omitempty"`
	Published  string   `json:"published,omitempty"`
	Categories []string `json:"categories,omitempty"`
	PDFURL     string   `json:"pdf_url,omitempty"`
	Authors    []string `json:"authors,omitempty"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
