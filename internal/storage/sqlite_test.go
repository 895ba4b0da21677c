package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/ronbun/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_UpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := &models.DocumentInput{
		ExternalID: "2101.00001",
		Title:      "Attention",
		Abstract:   "We study attention.",
		Published:  "2021-01-01",
		Categories: []string{"cs.LG", "cs.CL"},
		PDFURL:     "https://arxiv.org/pdf/2101.00001",
		Authors:    []string{"Ada Lovelace", "Alan Turing"},
	}
	id, err := store.UpsertDocument(ctx, in, models.IntPtr(2021))
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.GetDocument(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.ExternalID != "2101.00001" || got.Title != "Attention" || got.Abstract != "We study attention." {
		t.Errorf("got %+v", got)
	}
	if got.Year == nil || *got.Year != 2021 {
		t.Errorf("year = %v, want 2021", got.Year)
	}
	if !reflect.DeepEqual(got.Categories, []string{"cs.LG", "cs.CL"}) {
		t.Errorf("categories = %v", got.Categories)
	}
	if !reflect.DeepEqual(got.Authors, []string{"Ada Lovelace", "Alan Turing"}) {
		t.Errorf("authors = %v", got.Authors)
	}

	// Update keeps the id and replaces the author list.
	in.Title = "Attention v2"
	in.Authors = []string{"Alan Turing"}
	id2, err := store.UpsertDocument(ctx, in, nil)
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id {
		t.Errorf("id changed on update: %d -> %d", id, id2)
	}
	got, _ = store.GetDocument(ctx, id)
	if got.Title != "Attention v2" || got.Year != nil {
		t.Errorf("after update got %+v", got)
	}
	if !reflect.DeepEqual(got.Authors, []string{"Alan Turing"}) {
		t.Errorf("authors after update = %v", got.Authors)
	}

	n, err := store.CountDocuments(ctx)
	if err != nil || n != 1 {
		t.Errorf("CountDocuments = %d, %v", n, err)
	}
}

func TestSQLiteStorage_GetDocumentNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetDocument(context.Background(), 99)
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestSQLiteStorage_UpsertRequiresExternalID(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.UpsertDocument(context.Background(), &models.DocumentInput{Title: "x"}, nil); err == nil {
		t.Fatal("expected error for missing arxiv_id")
	}
}

func TestSQLiteStorage_ListDocumentsOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, ext := range []string{"c", "a", "b"} {
		if _, err := store.UpsertDocument(ctx, &models.DocumentInput{
			ExternalID: ext,
			Title:      "T " + ext,
			Authors:    []string{"Author " + ext},
		}, nil); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := store.ListDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(docs))
	}
	for i := 1; i < len(docs); i++ {
		if docs[i-1].ID >= docs[i].ID {
			t.Errorf("not ordered by id: %d then %d", docs[i-1].ID, docs[i].ID)
		}
	}
	if docs[0].ExternalID != "c" || len(docs[0].Authors) != 1 || docs[0].Authors[0] != "Author c" {
		t.Errorf("first doc = %+v", docs[0])
	}
}

func TestSQLiteStorage_Facets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inputs := []struct {
		in   models.DocumentInput
		year *int
	}{
		{models.DocumentInput{ExternalID: "1", Title: "a", Categories: []string{"cs.LG", "stat.ML"}, Authors: []string{"Bob"}}, models.IntPtr(2021)},
		{models.DocumentInput{ExternalID: "2", Title: "b", Categories: []string{"cs.LG"}, Authors: []string{"Alice", "Bob"}}, models.IntPtr(2020)},
		{models.DocumentInput{ExternalID: "3", Title: "c"}, nil},
	}
	for _, tc := range inputs {
		in := tc.in
		if _, err := store.UpsertDocument(ctx, &in, tc.year); err != nil {
			t.Fatal(err)
		}
	}

	f, err := store.Facets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(f.Years, []int{2020, 2021}) {
		t.Errorf("years = %v", f.Years)
	}
	if !reflect.DeepEqual(f.Categories, []string{"cs.LG", "stat.ML"}) {
		t.Errorf("categories = %v", f.Categories)
	}
	if !reflect.DeepEqual(f.Authors, []string{"Alice", "Bob"}) {
		t.Errorf("authors = %v", f.Authors)
	}
}
