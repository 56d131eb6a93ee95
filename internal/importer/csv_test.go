package importer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestParseCSV_ValidRows(t *testing.T) {
	data := `Title,Authors,Abstract,Year
ML in Healthcare,J. Smith,This paper explores ML applications...,2024
"Graph Neural Networks","A. Doe, B. Roe","Message passing on graphs, revisited.",2023
`
	rows, skipped, err := ParseCSV(strings.NewReader(data), "data/papers.csv", DefaultColumns())
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(skipped) != 0 {
		t.Errorf("unexpected skipped rows: %v", skipped)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	first := rows[0].Record
	if first.Title != "ML in Healthcare" || first.Authors != "J. Smith" {
		t.Errorf("first record = %+v", first)
	}
	if first.SourceFile != "papers.csv" {
		t.Errorf("SourceFile = %q, want base name", first.SourceFile)
	}
	if rows[0].Line != 2 || rows[1].Line != 3 {
		t.Errorf("lines = %d, %d; want 2, 3", rows[0].Line, rows[1].Line)
	}
	if rows[1].Record.Authors != "A. Doe, B. Roe" {
		t.Errorf("quoted field = %q", rows[1].Record.Authors)
	}
}

func TestParseCSV_SkipsIncompleteRows(t *testing.T) {
	data := `Title,Authors,Abstract
Complete,A. Author,An abstract.
No Authors,,An abstract.
,B. Author,Missing title.
Short Row,C. Author
`
	rows, skipped, err := ParseCSV(strings.NewReader(data), "x.csv", DefaultColumns())
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("got %d rows, want 1", len(rows))
	}
	if len(skipped) != 3 {
		t.Fatalf("got %d skipped, want 3", len(skipped))
	}
	if skipped[0].Line != 3 || skipped[0].Missing[0] != "authors" {
		t.Errorf("skipped[0] = %+v", skipped[0])
	}
	if skipped[2].Missing[0] != "abstract" {
		t.Errorf("short row should miss abstract: %+v", skipped[2])
	}
}

func TestParseCSV_MissingColumns(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		missing string
	}{
		{"no abstract column", "Title,Authors\nA,B\n", "Abstract"},
		{"case sensitive", "title,Authors,Abstract\nA,B,C\n", "Title"},
		{"empty file", "", "Title, Authors, Abstract"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseCSV(strings.NewReader(tt.data), "x.csv", DefaultColumns())
			var mc *MissingColumnsError
			if !errors.As(err, &mc) {
				t.Fatalf("error = %v, want MissingColumnsError", err)
			}
			if got := strings.Join(mc.Missing, ", "); got != tt.missing {
				t.Errorf("Missing = %q, want %q", got, tt.missing)
			}
		})
	}
}

func TestParseCSV_CustomColumnsAndBOM(t *testing.T) {
	data := "\ufeffName,Writers,Summary\nPaper,Someone,Text.\n"
	cols := Columns{Title: "Name", Authors: "Writers", Abstract: "Summary"}
	rows, _, err := ParseCSV(strings.NewReader(data), "x.csv", cols)
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Record.Title != "Paper" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	b := writeCSV(t, dir, "b.csv", "Title,Authors,Abstract\n")
	a := writeCSV(t, dir, "nested/a.csv", "Title,Authors,Abstract\n")
	writeCSV(t, dir, "notes.txt", "ignored")

	got, err := ExpandPaths([]string{dir, b})
	if err != nil {
		t.Fatalf("ExpandPaths() error = %v", err)
	}
	want := []string{b, a} // dir/b.csv sorts before dir/nested/a.csv
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("ExpandPaths() = %v, want %v", got, want)
	}

	_, err = ExpandPaths([]string{filepath.Join(dir, "missing.csv")})
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Errorf("error = %v, want IOError", err)
	}
}

func TestLoadFiles_DuplicatePolicies(t *testing.T) {
	dir := t.TempDir()
	first := writeCSV(t, dir, "1.csv", "Title,Authors,Abstract\nShared,A,Old abstract.\nOnly First,B,Text.\n")
	second := writeCSV(t, dir, "2.csv", "Title,Authors,Abstract\n shared ,C,New abstract.\n")

	t.Run("last wins in place", func(t *testing.T) {
		res, err := LoadFiles([]string{first, second}, DefaultColumns(), DuplicateLast)
		if err != nil {
			t.Fatalf("LoadFiles() error = %v", err)
		}
		if len(res.Records) != 2 {
			t.Fatalf("got %d records, want 2", len(res.Records))
		}
		if res.Records[0].Abstract != "New abstract." || res.Records[0].SourceFile != "2.csv" {
			t.Errorf("first record = %+v, want replacement from 2.csv", res.Records[0])
		}
		if res.Duplicates != 1 {
			t.Errorf("Duplicates = %d, want 1", res.Duplicates)
		}
	})

	t.Run("error policy", func(t *testing.T) {
		_, err := LoadFiles([]string{first, second}, DefaultColumns(), DuplicateError)
		var dup *DuplicateTitleError
		if !errors.As(err, &dup) {
			t.Fatalf("error = %v, want DuplicateTitleError", err)
		}
		if dup.First != "1.csv:2" || dup.Again != "2.csv:2" {
			t.Errorf("positions = %s, %s", dup.First, dup.Again)
		}
	})
}

func TestLoadFiles_UnreadableFile(t *testing.T) {
	_, err := LoadFiles([]string{filepath.Join(t.TempDir(), "nope.csv")}, DefaultColumns(), DuplicateLast)
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("error = %v, want IOError", err)
	}
}
