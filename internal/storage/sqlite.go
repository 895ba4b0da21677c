package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/ronbun/internal/models"
)

// categorySeparator joins categories in the articles.categories column.
const categorySeparator = ", "

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		arxiv_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		abstract TEXT,
		published TEXT,
		year INTEGER,
		pdf_url TEXT,
		categories TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_articles_year ON articles(year);

	CREATE TABLE IF NOT EXISTS authors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		preferred_name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS article_authors (
		article_id INTEGER NOT NULL,
		author_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		UNIQUE(article_id, author_id),
		FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE,
		FOREIGN KEY (author_id) REFERENCES authors(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_article_authors_article ON article_authors(article_id, position);
	`
	_, err := db.Exec(schema)
	return err
}

const selectArticle = `SELECT id, arxiv_id, title, abstract, published, year, pdf_url, categories, created_at FROM articles`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc                               models.Document
		abstract, published, pdfURL, cats sql.NullString
		year                              sql.NullInt64
	)
	if err := row.Scan(&doc.ID, &doc.ExternalID, &doc.Title, &abstract, &published, &year, &pdfURL, &cats, &doc.CreatedAt); err != nil {
		return nil, err
	}
	doc.Abstract = abstract.String
	doc.Published = published.String
	doc.PDFURL = pdfURL.String
	doc.Categories = splitCategories(cats.String)
	if year.Valid {
		doc.Year = models.IntPtr(int(year.Int64))
	}
	return &doc, nil
}

func splitCategories(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetDocument returns a document and its authors by internal id.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id int64) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, selectArticle+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT a.preferred_name FROM article_authors aa
		 JOIN authors a ON a.id = aa.author_id
		 WHERE aa.article_id = ? ORDER BY aa.position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		doc.Authors = append(doc.Authors, name)
	}
	return doc, rows.Err()
}

// ListDocuments returns every document with its authors, ordered by ascending id.
func (s *SQLiteStorage) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx, selectArticle+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	byID := make(map[int64]*models.Document)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
		byID[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	arows, err := s.db.QueryContext(ctx,
		`SELECT aa.article_id, a.preferred_name FROM article_authors aa
		 JOIN authors a ON a.id = aa.author_id
		 ORDER BY aa.article_id, aa.position`)
	if err != nil {
		return nil, err
	}
	defer arows.Close()
	for arows.Next() {
		var (
			articleID int64
			name      string
		)
		if err := arows.Scan(&articleID, &name); err != nil {
			return nil, err
		}
		if doc, ok := byID[articleID]; ok {
			doc.Authors = append(doc.Authors, name)
		}
	}
	return docs, arows.Err()
}

// UpsertDocument inserts or updates the article keyed by its external id and replaces its
// author list, all in one transaction. It returns the internal id, which is stable across
// updates.
func (s *SQLiteStorage) UpsertDocument(ctx context.Context, in *models.DocumentInput, year *int) (int64, error) {
	if in.ExternalID == "" {
		return 0, errors.New("arxiv_id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var yearVal any
	if year != nil {
		yearVal = *year
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO articles (arxiv_id, title, abstract, published, year, pdf_url, categories, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(arxiv_id) DO UPDATE SET
		   title = excluded.title,
		   abstract = excluded.abstract,
		   published = excluded.published,
		   year = excluded.year,
		   pdf_url = excluded.pdf_url,
		   categories = excluded.categories`,
		in.ExternalID, in.Title, in.Abstract, in.Published, yearVal, in.PDFURL,
		strings.Join(in.Categories, categorySeparator), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("upsert article %s: %w", in.ExternalID, err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM articles WHERE arxiv_id = ?`, in.ExternalID).Scan(&id); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM article_authors WHERE article_id = ?`, id); err != nil {
		return 0, err
	}
	position := 0
	for _, name := range in.Authors {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO authors (preferred_name) VALUES (?) ON CONFLICT(preferred_name) DO NOTHING`, name); err != nil {
			return 0, fmt.Errorf("insert author %q: %w", name, err)
		}
		var authorID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM authors WHERE preferred_name = ?`, name).Scan(&authorID); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO article_authors (article_id, author_id, position) VALUES (?, ?, ?)
			 ON CONFLICT(article_id, author_id) DO NOTHING`, id, authorID, position); err != nil {
			return 0, err
		}
		position++
	}
	return id, tx.Commit()
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&count)
	return count, err
}

// Facets returns the distinct years, categories and author names, each sorted ascending.
func (s *SQLiteStorage) Facets(ctx context.Context) (*Facets, error) {
	f := &Facets{Years: []int{}, Categories: []string{}, Authors: []string{}}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT year FROM articles WHERE year IS NOT NULL ORDER BY year`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			rows.Close()
			return nil, err
		}
		f.Years = append(f.Years, y)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT DISTINCT categories FROM articles WHERE categories IS NOT NULL AND categories != ''`)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			rows.Close()
			return nil, err
		}
		for _, cat := range splitCategories(c) {
			if _, ok := seen[cat]; !ok {
				seen[cat] = struct{}{}
				f.Categories = append(f.Categories, cat)
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(f.Categories)

	rows, err = s.db.QueryContext(ctx,
		`SELECT DISTINCT a.preferred_name FROM authors a
		 JOIN article_authors aa ON aa.author_id = a.id ORDER BY a.preferred_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		f.Authors = append(f.Authors, name)
	}
	return f, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
