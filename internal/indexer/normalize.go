package indexer

import (
	"strings"
	"unicode"

	"github.com/hyperjump/ronbun/internal/models"
)

const (
	minYear = 1900
	maxYear = 2100
)

// NormalizeDocument renders the canonical embedding text of a document: the non-empty title,
// abstract and categories as "Title: ...", "Abstract: ...", "Categories: ..." in that order,
// separated by a single space. A document with none of them yields "".
func NormalizeDocument(doc *models.Document) string {
	parts := make([]string, 0, 3)
	if t := strings.TrimSpace(doc.Title); t != "" {
		parts = append(parts, "Title: "+t)
	}
	if a := strings.TrimSpace(doc.Abstract); a != "" {
		parts = append(parts, "Abstract: "+a)
	}
	if c := strings.TrimSpace(strings.Join(doc.Categories, ", ")); c != "" {
		parts = append(parts, "Categories: "+c)
	}
	return strings.Join(parts, " ")
}

// Preprocess normalizes text for encoding (trim, collapse whitespace).
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

// CleanText removes control characters from imported text and collapses whitespace.
// Control characters that are whitespace (newline, tab) count as a space.
func CleanText(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	return Preprocess(cleaned)
}

// ExtractYear returns the first run of four digits in s when it lies within [1900, 2100].
func ExtractYear(s string) *int {
	run := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			run = 0
			continue
		}
		run++
		if run == 4 {
			year := int(s[i-3]-'0')*1000 + int(s[i-2]-'0')*100 + int(s[i-1]-'0')*10 + int(s[i]-'0')
			if year < minYear || year > maxYear {
				return nil
			}
			return models.IntPtr(year)
		}
	}
	return nil
}
