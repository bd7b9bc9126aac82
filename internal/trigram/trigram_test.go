package trigram

import (
	"math"
	"testing"
)

func TestSet(t *testing.T) {
	got := Set("Word")
	want := []string{"  w", " wo", "wor", "ord", "rd "}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for _, g := range want {
		if _, ok := got[g]; !ok {
			t.Errorf("missing trigram %q", g)
		}
	}
}

// Reference values from the pg_trgm documentation and psql.
func TestSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"word", "two words", 4.0 / 11.0},
		{"word", "word", 1},
		{"WORD", "word", 1},
		{"abc", "xyz", 0},
		{"", "word", 0},
		{"!!!", "???", 0},
	}
	for _, c := range cases {
		got := Similarity(c.a, c.b)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("Similarity(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestSimilarityMultibyte(t *testing.T) {
	if s := Similarity("엘프", "엘프 마을"); s <= DefaultThreshold {
		t.Errorf("similarity of shared Hangul word = %v, want > %v", s, DefaultThreshold)
	}
}
