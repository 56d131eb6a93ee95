package reference

import (
	"strings"
	"testing"
)

func TestNewPaperRecord_CleansFields(t *testing.T) {
	p := NewPaperRecord("  ML in\n Healthcare ", "J.  Smith", "This paper\texplores ML.", "papers.csv")

	if p.Title != "ML in Healthcare" {
		t.Errorf("Title = %q, want %q", p.Title, "ML in Healthcare")
	}
	if p.Authors != "J. Smith" {
		t.Errorf("Authors = %q, want %q", p.Authors, "J. Smith")
	}
	if p.Abstract != "This paper explores ML." {
		t.Errorf("Abstract = %q", p.Abstract)
	}
	if p.ID == "" || len(p.ID) != idLength {
		t.Errorf("ID = %q, want %d hex chars", p.ID, idLength)
	}
	if p.SourceFile != "papers.csv" {
		t.Errorf("SourceFile = %q", p.SourceFile)
	}
}

func TestPaperID_NormalizesTitle(t *testing.T) {
	a := PaperID("Graph Neural Networks")
	b := PaperID("  graph   neural networks ")
	c := PaperID("Unrelated Cooking Techniques")

	if a != b {
		t.Errorf("IDs differ for equivalent titles: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different titles should have different IDs")
	}
}

func TestPaperRecord_MissingFields(t *testing.T) {
	tests := []struct {
		name    string
		rec     PaperRecord
		missing []string
	}{
		{"complete", NewPaperRecord("T", "A", "B", ""), nil},
		{"no title", NewPaperRecord(" ", "A", "B", ""), []string{"title"}},
		{"no authors or abstract", NewPaperRecord("T", "", "\t", ""), []string{"authors", "abstract"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rec.MissingFields()
			if strings.Join(got, ",") != strings.Join(tt.missing, ",") {
				t.Errorf("MissingFields() = %v, want %v", got, tt.missing)
			}
		})
	}
}

func TestChunks_SingleChunkByDefault(t *testing.T) {
	p := NewPaperRecord("ML in Healthcare", "J. Smith", "This paper explores ML applications.", "")
	chunks := Chunks(p, 0, 0, 7)

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.ID != p.ID {
		t.Errorf("ID = %q, want paper ID %q", c.ID, p.ID)
	}
	if c.Ordinal != 7 {
		t.Errorf("Ordinal = %d, want 7", c.Ordinal)
	}
	want := "ML in Healthcare\nJ. Smith\n\nThis paper explores ML applications."
	if c.Text != want {
		t.Errorf("Text = %q, want %q", c.Text, want)
	}
}

func TestChunks_SplitsLongAbstracts(t *testing.T) {
	abstract := strings.Repeat("Sentence number one is here. ", 20)
	p := NewPaperRecord("Long", "A. Author", abstract, "")
	chunks := Chunks(p, 120, 20, 0)

	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if c.Ordinal != i || c.Index != i {
			t.Errorf("chunk %d has ordinal %d index %d", i, c.Ordinal, c.Index)
		}
		if !strings.HasPrefix(c.Text, "Long\nA. Author\n\n") {
			t.Errorf("chunk %d missing header: %q", i, c.Text)
		}
		if !strings.HasPrefix(c.ID, p.ID+"#") {
			t.Errorf("chunk %d ID = %q", i, c.ID)
		}
	}
}

func TestSplitPassages(t *testing.T) {
	t.Run("short text is one passage", func(t *testing.T) {
		got := SplitPassages("One. Two.", 100, 10)
		if len(got) != 1 || got[0] != "One. Two." {
			t.Errorf("SplitPassages() = %v", got)
		}
	})

	t.Run("respects max length except for long sentences", func(t *testing.T) {
		text := "Alpha beta gamma. Delta epsilon zeta. Eta theta iota. Kappa lambda mu."
		got := SplitPassages(text, 40, 0)
		if len(got) < 2 {
			t.Fatalf("expected split, got %v", got)
		}
		for _, p := range got {
			if len(p) > 40 {
				t.Errorf("passage too long (%d): %q", len(p), p)
			}
		}
	})

	t.Run("carries overlap", func(t *testing.T) {
		text := "Alpha beta gamma. Delta epsilon zeta. Eta theta iota."
		got := SplitPassages(text, 40, 6)
		if len(got) < 2 {
			t.Fatalf("expected split, got %v", got)
		}
		if !strings.HasPrefix(got[1], "zeta. Eta") {
			t.Errorf("second passage = %q, want overlap prefix", got[1])
		}
	})
}

func TestShortAuthors(t *testing.T) {
	tests := []struct {
		authors string
		max     int
		want    string
	}{
		{"J. Smith", 3, "J. Smith"},
		{"A, B, C, D", 3, "A, B, C et al."},
		{"Smith, J.; Doe, A.", 1, "Smith, J. et al."},
		{"", 3, ""},
	}

	for _, tt := range tests {
		if got := ShortAuthors(tt.authors, tt.max); got != tt.want {
			t.Errorf("ShortAuthors(%q, %d) = %q, want %q", tt.authors, tt.max, got, tt.want)
		}
	}
}

func TestTruncateUTF8(t *testing.T) {
	if got := TruncateUTF8("héllo", 2); got != "h" {
		t.Errorf("TruncateUTF8 split a rune: %q", got)
	}
	if got := TruncateUTF8("short", 10); got != "short" {
		t.Errorf("TruncateUTF8 changed short text: %q", got)
	}
	if got := tailUTF8("héllo", 4); got != "llo" {
		t.Errorf("tailUTF8 = %q, want %q", got, "llo")
	}
}
