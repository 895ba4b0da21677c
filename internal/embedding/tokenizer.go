package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	defaultMaxTokens = 256
	maxCharsPerWord  = 100
	subwordPrefix    = "##"
)

// WordPieceTokenizer is the uncased BERT tokenizer: text is cleaned, lowercased and stripped of
// accents, split on whitespace, punctuation and CJK ideographs, then each word is broken into the
// longest vocabulary pieces from the left.
type WordPieceTokenizer struct {
	vocab map[string]int64
	clsID int64
	sepID int64
	unkID int64
	padID int64
}

// NewWordPieceTokenizer requires [CLS], [SEP] and [UNK] in vocab. [PAD] defaults to 0.
func NewWordPieceTokenizer(vocab map[string]int64) (*WordPieceTokenizer, error) {
	t := &WordPieceTokenizer{vocab: vocab}
	for _, special := range []struct {
		token string
		id    *int64
	}{{"[CLS]", &t.clsID}, {"[SEP]", &t.sepID}, {"[UNK]", &t.unkID}} {
		id, ok := vocab[special.token]
		if !ok {
			return nil, fmt.Errorf("wordpiece vocab has no %s token", special.token)
		}
		*special.id = id
	}
	t.padID = vocab["[PAD]"]
	return t, nil
}

// LoadWordPieceVocab reads a vocab.txt: one token per line, the line index is the token id.
func LoadWordPieceVocab(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		if token := strings.TrimSpace(scanner.Text()); token != "" {
			vocab[token] = id
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab %s: %w", path, err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab %s is empty", path)
	}
	return vocab, nil
}

// Tokenize produces [CLS] pieces... [SEP] padded to maxTokens. Pieces past maxTokens-2 are dropped.
func (t *WordPieceTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if maxTokens < 2 {
		maxTokens = 2
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = t.clsID
	attentionMask[0] = 1
	pos := 1
	for _, word := range basicTokens(text) {
		for _, id := range t.wordPieces(word) {
			if pos >= maxTokens-1 {
				break
			}
			inputIDs[pos] = id
			attentionMask[pos] = 1
			pos++
		}
	}
	inputIDs[pos] = t.sepID
	attentionMask[pos] = 1
	for i := pos + 1; i < maxTokens; i++ {
		inputIDs[i] = t.padID
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// wordPieces splits one word greedily into the longest matching pieces. A word with any
// unmatched remainder becomes a single [UNK].
func (t *WordPieceTokenizer) wordPieces(word string) []int64 {
	runes := []rune(word)
	if len(runes) > maxCharsPerWord {
		return []int64{t.unkID}
	}
	var pieces []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		found := false
		for ; end > start; end-- {
			sub := string(runes[start:end])
			if start > 0 {
				sub = subwordPrefix + sub
			}
			if id, ok := t.vocab[sub]; ok {
				pieces = append(pieces, id)
				found = true
				break
			}
		}
		if !found {
			return []int64{t.unkID}
		}
		start = end
	}
	return pieces
}

// basicTokens lowercases, strips accents and splits text into words, punctuation marks and
// single CJK ideographs.
func basicTokens(text string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range norm.NFD.String(strings.ToLower(text)) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case r == 0 || r == unicode.ReplacementChar || unicode.IsControl(r) || unicode.Is(unicode.Cf, r):
			// dropped
		case unicode.Is(unicode.Mn, r):
			// combining accent left by NFD
		case isPunctuation(r) || unicode.Is(unicode.Han, r):
			flush()
			words = append(words, string(r))
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}

// isPunctuation treats every non-alphanumeric ASCII symbol as punctuation, as BERT does.
func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

// SplitWords lowercases text and splits it into words on whitespace and punctuation.
// Returns nil when text has no words.
func SplitWords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '.' && r != '-')
	})
	if len(words) == 0 {
		return nil
	}
	return words
}

// HashString returns a deterministic non-negative hash for use as a simple token ID.
func HashString(s string) int {
	var h uint32 = 2166136261
	for _, c := range []byte(s) {
		h ^= uint32(c)
		h *= 16777619
	}
	return int(h & 0x7fffffff)
}
