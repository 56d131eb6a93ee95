// Package reference defines the paper records read from CSV exports and the
// retrievable chunks derived from them.
package reference

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// PaperRecord represents one paper row from an input CSV.
type PaperRecord struct {
	ID         string `json:"id"` // Stable hash of the normalized title
	Title      string `json:"title"`
	Authors    string `json:"authors"`
	Abstract   string `json:"abstract"`
	SourceFile string `json:"source_file,omitempty"` // Base name of the CSV the row came from
}

// Chunk is one unit of retrievable text derived from a paper.
type Chunk struct {
	ID      string      `json:"id"`
	Ordinal int         `json:"ordinal"` // Global ingestion order, used as the retrieval tie-break
	Index   int         `json:"index"`   // Position of this chunk within its paper
	Text    string      `json:"text"`
	Paper   PaperRecord `json:"paper"`
}

// idLength is the number of hex characters kept from the title hash.
const idLength = 16

var whitespaceRun = regexp.MustCompile(`\s+`)

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// NewPaperRecord builds a record from raw CSV fields, cleaning each one and
// deriving the ID from the title.
func NewPaperRecord(title, authors, abstract, sourceFile string) PaperRecord {
	title = CleanText(title)
	return PaperRecord{
		ID:         PaperID(title),
		Title:      title,
		Authors:    CleanText(authors),
		Abstract:   CleanText(abstract),
		SourceFile: sourceFile,
	}
}

// PaperID returns the stable identifier for a paper title.
// Titles differing only in case or whitespace share an ID.
func PaperID(title string) string {
	h := sha256.New()
	io.WriteString(h, strings.ToLower(CleanText(title)))
	return hex.EncodeToString(h.Sum(nil))[:idLength]
}

// MissingFields returns the names of required fields that are empty.
func (p PaperRecord) MissingFields() []string {
	var missing []string
	if p.Title == "" {
		missing = append(missing, "title")
	}
	if p.Authors == "" {
		missing = append(missing, "authors")
	}
	if p.Abstract == "" {
		missing = append(missing, "abstract")
	}
	return missing
}

// ChunkText joins the title, authors and an abstract passage into the text
// that gets embedded and shown to the model.
func ChunkText(p PaperRecord, passage string) string {
	return p.Title + "\n" + p.Authors + "\n\n" + passage
}

// ChunkID returns the ID of the i-th chunk of a paper split into n chunks.
func ChunkID(paperID string, i, n int) string {
	if n <= 1 {
		return paperID
	}
	return fmt.Sprintf("%s#%d", paperID, i)
}

// Chunks splits a paper into chunks. With maxChars <= 0 the whole abstract is
// one chunk. Ordinals start at firstOrdinal.
func Chunks(p PaperRecord, maxChars, overlap, firstOrdinal int) []Chunk {
	passages := []string{p.Abstract}
	if maxChars > 0 {
		passages = SplitPassages(p.Abstract, maxChars, overlap)
	}

	chunks := make([]Chunk, len(passages))
	for i, passage := range passages {
		chunks[i] = Chunk{
			ID:      ChunkID(p.ID, i, len(passages)),
			Ordinal: firstOrdinal + i,
			Index:   i,
			Text:    ChunkText(p, passage),
			Paper:   p,
		}
	}
	return chunks
}

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// splitSentences splits text after sentence-ending punctuation.
func splitSentences(text string) []string {
	var sentences []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		sentences = append(sentences, strings.TrimSpace(text[last:loc[1]]))
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// SplitPassages splits text into passages of roughly maxChars bytes at
// sentence boundaries. Each new passage starts with up to overlap bytes from
// the end of the previous one. A single sentence longer than maxChars becomes
// its own passage.
func SplitPassages(text string, maxChars, overlap int) []string {
	text = CleanText(text)
	if len(text) <= maxChars {
		return []string{text}
	}

	var passages []string
	var current string
	for _, sent := range splitSentences(text) {
		switch {
		case current == "":
			current = sent
		case len(current)+1+len(sent) <= maxChars:
			current += " " + sent
		default:
			passages = append(passages, current)
			current = strings.TrimSpace(tailUTF8(current, overlap) + " " + sent)
		}
	}
	if current != "" {
		passages = append(passages, current)
	}
	return passages
}
