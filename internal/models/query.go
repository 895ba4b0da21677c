package models

import (
	"fmt"
	"strings"
)

// Filters restricts search results by document attributes. A nil or empty set means no
// restriction on that attribute. A document passes a set when any of its values is in it;
// all non-empty sets must pass.
type Filters struct {
	Years      []int    `json:"years,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Authors    []string `json:"authors,omitempty"`
}

// IsEmpty reports whether no filter is set.
func (f *Filters) IsEmpty() bool {
	return f == nil || (len(f.Years) == 0 && len(f.Categories) == 0 && len(f.Authors) == 0)
}

// Match reports whether doc passes every non-empty filter set.
func (f *Filters) Match(doc *Document) bool {
	if f.IsEmpty() {
		return true
	}
	if len(f.Years) > 0 {
		if doc.Year == nil || !containsInt(f.Years, *doc.Year) {
			return false
		}
	}
	if len(f.Categories) > 0 && !anyIn(doc.Categories, f.Categories) {
		return false
	}
	if len(f.Authors) > 0 && !anyIn(doc.Authors, f.Authors) {
		return false
	}
	return true
}

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func anyIn(values, set []string) bool {
	for _, v := range values {
		for _, s := range set {
			if v == s {
				return true
			}
		}
	}
	return false
}

// SearchQuery represents a semantic search request with optional filters.
type SearchQuery struct {
	Query   string   `json:"query"`
	K       int      `json:"k,omitempty"`
	Filters *Filters `json:"filters,omitempty"`
}

// IsBlank reports whether the query text is empty or whitespace only.
func (q *SearchQuery) IsBlank() bool {
	return strings.TrimSpace(q.Query) == ""
}

// Validate applies the default result count and caps it at maxK.
// Returns an error if k is negative.
func (q *SearchQuery) Validate(defaultK, maxK int) error {
	if q.K < 0 {
		return fmt.Errorf("k must be positive, got %d", q.K)
	}
	if q.K == 0 {
		q.K = defaultK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	return nil
}
