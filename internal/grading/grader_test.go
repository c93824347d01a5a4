package grading

import (
	"context"
	"math"
	"strings"
	"testing"
)

func intPtr(i int) *int { return &i }

// phrase repeated n times yields a fully non-stopword text with 5n words.
func phrase(n int) string {
	return strings.TrimSpace(strings.Repeat("water cycle evaporation condensation precipitation ", n))
}

func grade(t *testing.T, q Q, r Response) Result {
	t.Helper()
	res, err := NewReferenceGrader().Grade(context.Background(), q, r)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	return res
}

func TestGradeChoice(t *testing.T) {
	q := Q{Type: "choice", Choices: []string{"Paris", "London", "Berlin"}, ReferenceAnswer: "1", Points: 5}

	tests := []struct {
		name      string
		resp      Response
		points    float64
		correct   bool
		manual    bool
	}{
		{"match", Response{SelectedChoice: intPtr(1)}, 5, true, false},
		{"mismatch", Response{SelectedChoice: intPtr(2)}, 0, false, false},
		{"no selection", Response{}, 0, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := grade(t, q, tc.resp)
			if res.PointsEarned != tc.points || res.IsCorrect != tc.correct {
				t.Errorf("got %v correct=%v, want %v correct=%v", res.PointsEarned, res.IsCorrect, tc.points, tc.correct)
			}
			if res.Confidence != 1.0 || res.Method != MethodExactMatch {
				t.Errorf("confidence=%v method=%q", res.Confidence, res.Method)
			}
		})
	}

	t.Run("unparseable reference", func(t *testing.T) {
		bad := q
		bad.ReferenceAnswer = "not-a-number"
		res := grade(t, bad, Response{SelectedChoice: intPtr(0)})
		if res.PointsEarned != 0 || !res.NeedsManualReview {
			t.Errorf("want zero points and manual review, got %v manual=%v", res.PointsEarned, res.NeedsManualReview)
		}
	})

	t.Run("reveals correct choice", func(t *testing.T) {
		res := grade(t, q, Response{SelectedChoice: intPtr(0)})
		if !strings.Contains(res.Feedback, "London") {
			t.Errorf("feedback should name the correct choice: %q", res.Feedback)
		}
	})
}

func TestGradeBoolean(t *testing.T) {
	q := Q{Type: "boolean", ReferenceAnswer: "true", Points: 2}

	if res := grade(t, q, Response{Text: "TRUE"}); !res.IsCorrect || res.PointsEarned != 2 {
		t.Errorf("case-insensitive match failed: %+v", res)
	}
	if res := grade(t, q, Response{Text: "false"}); res.IsCorrect || res.PointsEarned != 0 {
		t.Errorf("mismatch scored: %+v", res)
	}

	// Reference given as a choice index.
	qi := Q{Type: "boolean", ReferenceAnswer: "0", Choices: []string{"True", "False"}, Points: 2}
	if res := grade(t, qi, Response{SelectedChoice: intPtr(0)}); !res.IsCorrect {
		t.Errorf("index match failed: %+v", res)
	}
}

func TestGradeShort(t *testing.T) {
	q := Q{Type: "short", ReferenceAnswer: phrase(2), Points: 10}

	t.Run("exact match earns full points", func(t *testing.T) {
		res := grade(t, q, Response{Text: phrase(2)})
		if res.PointsEarned != 10 || !res.IsCorrect {
			t.Errorf("got %v correct=%v", res.PointsEarned, res.IsCorrect)
		}
		if !strings.Contains(res.Feedback, "thorough understanding") {
			t.Errorf("feedback band: %q", res.Feedback)
		}
		if res.Confidence != 0.95 {
			t.Errorf("confidence = %v", res.Confidence)
		}
		if res.Method != MethodSimilarityKeyword {
			t.Errorf("method = %q", res.Method)
		}
	})

	t.Run("empty answer is zero, not an error", func(t *testing.T) {
		res := grade(t, q, Response{Text: ""})
		if res.PointsEarned != 0 || res.IsCorrect {
			t.Errorf("got %v correct=%v", res.PointsEarned, res.IsCorrect)
		}
		if !strings.Contains(res.Feedback, "does not address") {
			t.Errorf("feedback band: %q", res.Feedback)
		}
	})

	t.Run("stopword-only reference yields keyword density 1", func(t *testing.T) {
		// similarity degenerates to 0, keyword density to 1: f = 0.4.
		sq := Q{Type: "short", ReferenceAnswer: "the and for but", Points: 10}
		res := grade(t, sq, Response{Text: "anything at all"})
		if math.Abs(res.PointsEarned-4.0) > 1e-9 {
			t.Errorf("points = %v, want 4.0", res.PointsEarned)
		}
	})

	t.Run("unrelated answer scores below related", func(t *testing.T) {
		ref := "a decorator is a function that wraps another function to extend its behavior"
		rq := Q{Type: "short", ReferenceAnswer: ref, Points: 10}
		rel := grade(t, rq, Response{Text: "decorators wrap functions to add extra functionality"})
		unrel := grade(t, rq, Response{Text: "the mitochondria is the powerhouse of the cell"})
		if rel.PointsEarned <= unrel.PointsEarned {
			t.Errorf("related %v <= unrelated %v", rel.PointsEarned, unrel.PointsEarned)
		}
		if rel.PointsEarned < 3 {
			t.Errorf("related answer scored implausibly low: %v", rel.PointsEarned)
		}
		if unrel.PointsEarned != 0 {
			t.Errorf("unrelated answer earned %v, want 0", unrel.PointsEarned)
		}
	})

	t.Run("morphological variants earn full credit", func(t *testing.T) {
		rq := Q{Type: "short", ReferenceAnswer: "the decorator wraps a function", Points: 10}
		res := grade(t, rq, Response{Text: "decorators wrap functions"})
		if math.Abs(res.PointsEarned-10.0) > 1e-9 {
			t.Errorf("points = %v, want 10.0", res.PointsEarned)
		}
	})

	t.Run("missing required keywords surface in feedback", func(t *testing.T) {
		kq := q
		kq.RequiredKeywords = []string{"evaporation", "osmosis"}
		res := grade(t, kq, Response{Text: phrase(1)})
		if !strings.Contains(res.Feedback, "Key terms needed: osmosis") {
			t.Errorf("feedback = %q", res.Feedback)
		}
	})
}

func TestGradeEssay(t *testing.T) {
	ref := phrase(10) // 50 words

	t.Run("full-length exact match without rubric", func(t *testing.T) {
		// sim=1, kw=1, rubric=0: b=0.8, L=1, f=0.8 -> 8 of 10 points.
		q := Q{Type: "essay", ReferenceAnswer: ref, Points: 10}
		res := grade(t, q, Response{Text: ref})
		if math.Abs(res.PointsEarned-8.0) > 1e-9 {
			t.Errorf("points = %v, want 8.0", res.PointsEarned)
		}
		if !res.IsCorrect || res.Method != MethodSimilarityRubric {
			t.Errorf("correct=%v method=%q", res.IsCorrect, res.Method)
		}
	})

	t.Run("rubric coverage completes the score", func(t *testing.T) {
		// rubric keywords all present: b=1.0, f=1.0 -> full points.
		q := Q{Type: "essay", ReferenceAnswer: ref, RubricText: "evaporation condensation precipitation", Points: 10}
		res := grade(t, q, Response{Text: ref})
		if math.Abs(res.PointsEarned-10.0) > 1e-9 {
			t.Errorf("points = %v, want 10.0", res.PointsEarned)
		}
		if res.Confidence != 0.95 {
			t.Errorf("confidence = %v", res.Confidence)
		}
	})

	t.Run("short essays are penalized proportionally", func(t *testing.T) {
		// 25 words: L=0.5, b=0.8 -> f=0.4 -> 4 of 10 points.
		q := Q{Type: "essay", ReferenceAnswer: phrase(5), Points: 10}
		res := grade(t, q, Response{Text: phrase(5)})
		if math.Abs(res.PointsEarned-4.0) > 1e-9 {
			t.Errorf("points = %v, want 4.0", res.PointsEarned)
		}
		if res.IsCorrect {
			t.Errorf("f=0.4 must not be correct")
		}
	})

	t.Run("empty essay is zero", func(t *testing.T) {
		q := Q{Type: "essay", ReferenceAnswer: ref, Points: 10}
		res := grade(t, q, Response{Text: "   "})
		if res.PointsEarned != 0 {
			t.Errorf("points = %v", res.PointsEarned)
		}
	})
}

func TestGradeUnknownTypeNeedsManualReview(t *testing.T) {
	res := grade(t, Q{Type: "numeric", Points: 3}, Response{Text: "42"})
	if res.PointsEarned != 0 || !res.NeedsManualReview {
		t.Errorf("got %v manual=%v, want zero points pending review", res.PointsEarned, res.NeedsManualReview)
	}
	if res.MaxPoints != 3 {
		t.Errorf("max points = %v", res.MaxPoints)
	}
}

func TestResultPercentage(t *testing.T) {
	if p := (Result{PointsEarned: 5, MaxPoints: 10}).Percentage(); p != 50 {
		t.Errorf("percentage = %v", p)
	}
	if p := (Result{PointsEarned: 0, MaxPoints: 0}).Percentage(); p != 0 {
		t.Errorf("zero max percentage = %v", p)
	}
}
