// Package importer reads paper records from CSV exports.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/matsen/paperqa/internal/reference"
)

// Columns names the CSV header columns holding each required field.
// Matching is case-sensitive.
type Columns struct {
	Title    string `yaml:"title"`
	Authors  string `yaml:"authors"`
	Abstract string `yaml:"abstract"`
}

// DefaultColumns returns the standard Title/Authors/Abstract header names.
func DefaultColumns() Columns {
	return Columns{Title: "Title", Authors: "Authors", Abstract: "Abstract"}
}

// Duplicate title policies.
const (
	DuplicateLast  = "last"  // Later rows replace earlier ones in place
	DuplicateError = "error" // Any repeated title aborts the import
)

// IOError reports an input file that could not be opened or read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// MissingColumnsError reports a CSV whose header lacks required columns.
type MissingColumnsError struct {
	Path    string
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s: missing required columns %s", e.Path, strings.Join(e.Missing, ", "))
}

// DuplicateTitleError reports a repeated title under the "error" policy.
type DuplicateTitleError struct {
	Title string
	First string // file:line of the first occurrence
	Again string // file:line of the repeat
}

func (e *DuplicateTitleError) Error() string {
	return fmt.Sprintf("duplicate title %q at %s (first seen at %s)", e.Title, e.Again, e.First)
}

// SkippedRow describes a row dropped for missing field values.
type SkippedRow struct {
	File    string   `json:"file"`
	Line    int      `json:"line"`
	Missing []string `json:"missing"`
}

func (s SkippedRow) String() string {
	return fmt.Sprintf("%s:%d: missing %s", s.File, s.Line, strings.Join(s.Missing, ", "))
}

// Row is a valid record together with its position in the input.
type Row struct {
	Record reference.PaperRecord
	Line   int
}

// ParseCSV reads records from r. Rows missing any required value are
// reported in the skipped list rather than failing the parse; a header
// without the required columns is fatal.
func ParseCSV(r io.Reader, name string, cols Columns) ([]Row, []SkippedRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, &MissingColumnsError{Path: name, Missing: []string{cols.Title, cols.Authors, cols.Abstract}}
		}
		return nil, nil, fmt.Errorf("%s: reading header: %w", name, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	positions := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := positions[h]; !dup {
			positions[h] = i
		}
	}

	var missing []string
	for _, c := range []string{cols.Title, cols.Authors, cols.Abstract} {
		if _, ok := positions[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, nil, &MissingColumnsError{Path: name, Missing: missing}
	}

	field := func(rec []string, col string) string {
		if i := positions[col]; i < len(rec) {
			return rec[i]
		}
		return ""
	}

	base := filepath.Base(name)
	var rows []Row
	var skipped []SkippedRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		line, _ := cr.FieldPos(0)

		p := reference.NewPaperRecord(
			field(rec, cols.Title),
			field(rec, cols.Authors),
			field(rec, cols.Abstract),
			base,
		)
		if m := p.MissingFields(); len(m) > 0 {
			skipped = append(skipped, SkippedRow{File: base, Line: line, Missing: m})
			continue
		}
		rows = append(rows, Row{Record: p, Line: line})
	}

	return rows, skipped, nil
}

// ExpandPaths resolves the input set: files are kept as given, directories
// are walked for *.csv files. The result is sorted and deduplicated so that
// ingestion order does not depend on argument or directory order.
func ExpandPaths(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, &IOError{Path: p, Err: err}
		}
		if !info.IsDir() {
			add(filepath.Clean(p))
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".csv") {
				add(filepath.Clean(path))
			}
			return nil
		})
		if err != nil {
			return nil, &IOError{Path: p, Err: err}
		}
	}

	sort.Strings(out)
	return out, nil
}

// Result is the merged output of loading several CSV files.
type Result struct {
	Records    []reference.PaperRecord
	Skipped    []SkippedRow
	Duplicates int // Rows that replaced an earlier record with the same title
	Files      []string
}

// LoadFiles parses each file in order and merges the records, applying the
// duplicate title policy.
func LoadFiles(paths []string, cols Columns, duplicates string) (*Result, error) {
	res := &Result{Files: paths}
	index := make(map[string]int)        // paper ID -> position in res.Records
	firstSeen := make(map[string]string) // paper ID -> file:line

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, &IOError{Path: path, Err: err}
		}
		rows, skipped, err := ParseCSV(f, path, cols)
		f.Close()
		if err != nil {
			var mc *MissingColumnsError
			if errors.As(err, &mc) {
				return nil, err
			}
			return nil, &IOError{Path: path, Err: err}
		}
		res.Skipped = append(res.Skipped, skipped...)

		for _, row := range rows {
			id := row.Record.ID
			where := fmt.Sprintf("%s:%d", row.Record.SourceFile, row.Line)
			pos, exists := index[id]
			if !exists {
				index[id] = len(res.Records)
				firstSeen[id] = where
				res.Records = append(res.Records, row.Record)
				continue
			}
			if duplicates == DuplicateError {
				return nil, &DuplicateTitleError{Title: row.Record.Title, First: firstSeen[id], Again: where}
			}
			res.Records[pos] = row.Record
			res.Duplicates++
		}
	}

	return res, nil
}
