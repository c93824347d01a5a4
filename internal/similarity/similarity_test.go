package similarity

import (
	"math"
	"testing"
)

func TestScoreSelfSimilarity(t *testing.T) {
	texts := []string{
		"a decorator is a function that wraps another function",
		"binary search halves the interval on every probe",
		"photosynthesis converts light energy into chemical energy",
	}
	for _, tt := range texts {
		if got := Score(tt, tt); math.Abs(got-1.0) > 1e-9 {
			t.Errorf("Score(%q, same) = %v, want 1.0", tt, got)
		}
	}
}

func TestScoreSymmetry(t *testing.T) {
	a := "a decorator is a function that wraps another function to extend its behavior"
	b := "decorators wrap functions to add extra functionality"
	if s1, s2 := Score(a, b), Score(b, a); math.Abs(s1-s2) > 1e-9 {
		t.Errorf("Score not symmetric: %v vs %v", s1, s2)
	}
}

func TestScoreDegenerateInputs(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"both empty", "", ""},
		{"one empty", "a real answer about databases", ""},
		{"whitespace only", "   \t\n", "normal text here"},
		{"all stopwords", "the and for but not", "normal text here"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.a, tc.b); got != 0.0 {
				t.Errorf("Score(%q, %q) = %v, want 0.0", tc.a, tc.b, got)
			}
		})
	}
}

func TestScoreRelatedBeatsUnrelated(t *testing.T) {
	ref := "a decorator is a function that wraps another function to extend its behavior"
	related := "decorators wrap functions to add extra functionality"
	unrelated := "the mitochondria is the powerhouse of the cell"

	sr := Score(ref, related)
	su := Score(ref, unrelated)
	if sr <= su {
		t.Fatalf("related score %v should exceed unrelated score %v", sr, su)
	}
	if sr < 0.2 {
		t.Errorf("related answers scored implausibly low: %v", sr)
	}
	if su >= 0.85 {
		t.Errorf("unrelated answers scored implausibly high: %v", su)
	}
}

func TestScoreRange(t *testing.T) {
	pairs := [][2]string{
		{"alpha beta gamma", "alpha beta gamma delta"},
		{"completely different words here", "nothing shared whatsoever between"},
		{"repeat repeat repeat repeat", "repeat"},
	}
	for _, p := range pairs {
		s := Score(p[0], p[1])
		if s < 0.0 || s > 1.0 {
			t.Errorf("Score(%q, %q) = %v outside [0,1]", p[0], p[1], s)
		}
	}
}

func TestScoreFoldsInflections(t *testing.T) {
	// Same statement with plural/third-person variants compares identical.
	got := Score("the decorator wraps a function", "decorators wrap functions")
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("inflected variants scored %v, want 1.0", got)
	}
}

func TestFold(t *testing.T) {
	tests := []struct{ in, want string }{
		{"decorators", "decorator"},
		{"wraps", "wrap"},
		{"studies", "study"},
		{"class", "class"},
		{"bus", "bus"},
		{"analysis", "analysis"},
		{"gas", "gas"},
		{"cat", "cat"},
	}
	for _, tc := range tests {
		if got := Fold(tc.in); got != tc.want {
			t.Errorf("Fold(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("The decorator wraps the function, and the decorator extends behavior.")
	want := []string{"decorator", "wraps", "function", "extends", "behavior"}
	if len(got) != len(want) {
		t.Fatalf("Keywords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keywords[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Hello, World!", "hello world"},
		{"it's  fine", "it's fine"},
		{"A\tB\nC", "a b c"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
