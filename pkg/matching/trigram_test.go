package matching

import "testing"

func TestTrigramSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{name: "identical", a: "123 main st", b: "123 main st", min: 1.0, max: 1.0},
		{name: "empty left", a: "", b: "123 main st", min: 0, max: 0},
		{name: "empty right", a: "123 main st", b: "", min: 0, max: 0},
		{name: "disjoint", a: "aaaaaa", b: "zzzzzz", min: 0, max: 0},
		{name: "abbreviated suffix", a: "456 oak ave", b: "456 oak avenue", min: 0.6, max: 0.9},
		{name: "unit suffix", a: "123 main st", b: "123 main st apt 4", min: 0.55, max: 0.95},
		{name: "different street", a: "123 main st", b: "900 elm blvd", min: 0, max: 0.2},
		{name: "punctuation ignored", a: "123 main st", b: "123, main st.", min: 1.0, max: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrigramSimilarity(tt.a, tt.b)
			if got < tt.min || got > tt.max {
				t.Errorf("TrigramSimilarity(%q, %q) = %v, want in [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

// Values computed with pg_trgm's similarity(); the in-memory scorer has to
// agree with the SQL pre-filter exactly or leads can pass one gate and fail
// the other.
func TestTrigramSimilarityMatchesPgTrgm(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"456 oak ave", "456 oak avenue", 11.0 / 16.0},
		{"123 main st", "123 main st apt 4", 12.0 / 18.0},
		{"123 main street", "123 main st", 11.0 / 17.0},
		{"91 cypress grove ave", "91 cypress grove avenue", 20.0 / 24.0},
	}
	for _, tt := range tests {
		if got := TrigramSimilarity(tt.a, tt.b); got != tt.want {
			t.Errorf("TrigramSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTrigramSimilaritySymmetric(t *testing.T) {
	pairs := [][2]string{
		{"456 oak ave", "456 oak avenue"},
		{"123 main st", "123 main street apt 4"},
		{"ab", "abc"},
	}
	for _, p := range pairs {
		if ab, ba := TrigramSimilarity(p[0], p[1]), TrigramSimilarity(p[1], p[0]); ab != ba {
			t.Errorf("similarity not symmetric for %q/%q: %v != %v", p[0], p[1], ab, ba)
		}
	}
}
