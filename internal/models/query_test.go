package models

import (
	"testing"
)

func TestSearchQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *SearchQuery
		wantK   int
		wantErr bool
	}{
		{"negative k", &SearchQuery{Query: "x", K: -1}, 0, true},
		{"sets default k", &SearchQuery{Query: "x"}, 10, false},
		{"keeps k", &SearchQuery{Query: "x", K: 7}, 7, false},
		{"caps k at max", &SearchQuery{Query: "x", K: 500}, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(10, 100)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.query.K != tt.wantK {
				t.Errorf("K = %d, want %d", tt.query.K, tt.wantK)
			}
		})
	}
}

func TestSearchQuery_IsBlank(t *testing.T) {
	for _, q := range []string{"", " ", "\t\n  "} {
		if !(&SearchQuery{Query: q}).IsBlank() {
			t.Errorf("IsBlank(%q) = false, want true", q)
		}
	}
	if (&SearchQuery{Query: " graphs "}).IsBlank() {
		t.Error("IsBlank on non-empty query should be false")
	}
}

func TestFilters_Match(t *testing.T) {
	doc := &Document{
		ID:         1,
		Year:       IntPtr(2021),
		Categories: []string{"cs.LG", "stat.ML"},
		Authors:    []string{"Ada Lovelace", "Alan Turing"},
	}
	noYear := &Document{ID: 2, Categories: []string{"cs.LG"}}

	tests := []struct {
		name    string
		filters *Filters
		doc     *Document
		want    bool
	}{
		{"nil filters", nil, doc, true},
		{"empty filters", &Filters{}, doc, true},
		{"year hit", &Filters{Years: []int{2020, 2021}}, doc, true},
		{"year miss", &Filters{Years: []int{2020}}, doc, false},
		{"year set but doc has none", &Filters{Years: []int{2021}}, noYear, false},
		{"category any-of", &Filters{Categories: []string{"stat.ML"}}, doc, true},
		{"category miss", &Filters{Categories: []string{"cs.CV"}}, doc, false},
		{"author hit", &Filters{Authors: []string{"Alan Turing"}}, doc, true},
		{"all sets must pass", &Filters{Years: []int{2021}, Authors: []string{"Grace Hopper"}}, doc, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filters.Match(tt.doc); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}
