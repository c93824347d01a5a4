// Package grading converts a submitted answer into a point value for its
// question. Objective types (choice, boolean) are graded by exact match;
// free-text types (short, essay) by a weighted blend of TF-IDF similarity,
// keyword coverage and, for essays, rubric coverage.
package grading

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/examguard/examguard/internal/similarity"
)

// Grading method tags recorded on every Result.
const (
	MethodExactMatch        = "exact-match"
	MethodSimilarityKeyword = "similarity-keyword"
	MethodSimilarityRubric  = "similarity-keyword-rubric"
)

// Q is the view of a question the grader needs.
type Q struct {
	Type             string // choice | boolean | short | essay
	Text             string
	Choices          []string
	ReferenceAnswer  string
	RubricText       string
	RequiredKeywords []string
	Points           float64
}

// Response is a single submitted answer.
type Response struct {
	Text           string
	SelectedChoice *int
}

// Result is the outcome of grading one response. Immutable once produced;
// a re-grade yields a new Result.
type Result struct {
	PointsEarned      float64 `json:"points_earned"`
	MaxPoints         float64 `json:"max_points"`
	IsCorrect         bool    `json:"is_correct"`
	Confidence        float64 `json:"confidence"`
	Method            string  `json:"method"`
	Feedback          string  `json:"feedback"`
	NeedsManualReview bool    `json:"needs_manual_review,omitempty"`
}

// Grader grades a single question response.
type Grader interface {
	Grade(ctx context.Context, q Q, r Response) (Result, error)
}

type strategy interface {
	grade(q Q, r Response) Result
}

type referenceGrader struct {
	strategies map[string]strategy
}

// NewReferenceGrader returns the built-in algorithmic grader. It is pure and
// safe for concurrent use; answers of one attempt may be graded in parallel.
func NewReferenceGrader() Grader {
	return &referenceGrader{
		strategies: map[string]strategy{
			"choice":  choiceStrategy{},
			"boolean": choiceStrategy{boolean: true},
			"short":   shortStrategy{},
			"essay":   essayStrategy{},
		},
	}
}

func (g *referenceGrader) Grade(_ context.Context, q Q, r Response) (Result, error) {
	s, ok := g.strategies[q.Type]
	if !ok {
		// A malformed question must not abort grading of the rest of the
		// attempt; it degrades to zero points pending manual review.
		return Result{
			MaxPoints:         q.Points,
			Method:            MethodExactMatch,
			Feedback:          "Unknown question type",
			NeedsManualReview: true,
		}, nil
	}
	return s.grade(q, r), nil
}

// --- choice / boolean ---

type choiceStrategy struct{ boolean bool }

func (s choiceStrategy) grade(q Q, r Response) Result {
	res := Result{MaxPoints: q.Points, Confidence: 1.0, Method: MethodExactMatch}

	if s.boolean {
		if s.matchBoolean(q, r) {
			res.PointsEarned = q.Points
			res.IsCorrect = true
			res.Feedback = "Correct!"
		} else {
			res.Feedback = "Incorrect."
		}
		return res
	}

	correct, err := strconv.Atoi(strings.TrimSpace(q.ReferenceAnswer))
	if err != nil {
		res.Feedback = "Invalid answer format"
		res.NeedsManualReview = true
		return res
	}
	if r.SelectedChoice != nil && *r.SelectedChoice == correct {
		res.PointsEarned = q.Points
		res.IsCorrect = true
		res.Feedback = "Correct!"
		return res
	}
	res.Feedback = "Incorrect."
	if correct >= 0 && correct < len(q.Choices) {
		res.Feedback += " The correct answer was: " + q.Choices[correct]
	}
	return res
}

func (s choiceStrategy) matchBoolean(q Q, r Response) bool {
	ref := strings.TrimSpace(q.ReferenceAnswer)
	if idx, err := strconv.Atoi(ref); err == nil && r.SelectedChoice != nil {
		return *r.SelectedChoice == idx
	}
	given := strings.TrimSpace(r.Text)
	if r.SelectedChoice != nil && *r.SelectedChoice >= 0 && *r.SelectedChoice < len(q.Choices) {
		given = q.Choices[*r.SelectedChoice]
	}
	return given != "" && strings.EqualFold(given, ref)
}

// --- short answer ---

type shortStrategy struct{}

func (shortStrategy) grade(q Q, r Response) Result {
	sim := similarity.Score(r.Text, q.ReferenceAnswer)
	kw := keywordDensity(r.Text, q.ReferenceAnswer)
	f := 0.6*sim + 0.4*kw

	return Result{
		PointsEarned: round2(q.Points * f),
		MaxPoints:    q.Points,
		IsCorrect:    f >= 0.7,
		Confidence:   confidence(f),
		Method:       MethodSimilarityKeyword,
		Feedback:     textFeedback(f, q, r),
	}
}

// --- essay ---

type essayStrategy struct{}

func (essayStrategy) grade(q Q, r Response) Result {
	sim := similarity.Score(r.Text, q.ReferenceAnswer)
	kw := keywordDensity(r.Text, q.ReferenceAnswer)
	rub := rubricCoverage(r.Text, q.RubricText)

	b := 0.5*sim + 0.3*kw + 0.2*rub

	// Essays under 50 words earn proportionally less; length never adds a
	// bonus beyond full credit.
	words := float64(len(strings.Fields(similarity.Normalize(r.Text))))
	l := math.Min(1.0, words/50.0)
	f := b * l

	return Result{
		PointsEarned: round2(q.Points * f),
		MaxPoints:    q.Points,
		IsCorrect:    f >= 0.7,
		Confidence:   confidence(f),
		Method:       MethodSimilarityRubric,
		Feedback:     textFeedback(f, q, r),
	}
}

// keywordDensity is the fraction of the reference answer's keywords present
// in the student answer; 1.0 when the reference has no keywords to cover.
// Matching is by containment in the normalized answer, so "decorator"
// matches "decorators"; the folded form is tried as well so "wraps" matches
// "wrap".
func keywordDensity(answer, reference string) float64 {
	ref := similarity.Keywords(reference)
	if len(ref) == 0 {
		return 1.0
	}
	norm := similarity.Normalize(answer)
	hits := 0
	for _, w := range ref {
		if strings.Contains(norm, w) || strings.Contains(norm, similarity.Fold(w)) {
			hits++
		}
	}
	return float64(hits) / float64(len(ref))
}

// rubricCoverage is the fraction of rubric keywords appearing in the answer;
// 0 when no rubric (or no rubric keywords) is available.
func rubricCoverage(answer, rubric string) float64 {
	rk := similarity.Keywords(rubric)
	if len(rk) == 0 {
		return 0.0
	}
	words := make(map[string]struct{})
	for _, w := range strings.Fields(similarity.Normalize(answer)) {
		words[w] = struct{}{}
	}
	hits := 0
	for _, w := range rk {
		if _, ok := words[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(rk))
}

// textFeedback maps the combined fraction onto a fixed feedback band and
// appends any required keywords the answer is missing.
func textFeedback(f float64, q Q, r Response) string {
	var band string
	switch {
	case f >= 0.90:
		band = "Excellent answer, shows thorough understanding."
	case f >= 0.70:
		band = "Good answer, covers most key concepts."
	case f >= 0.50:
		band = "Partial credit, some concepts missing."
	case f >= 0.25:
		band = "Limited understanding shown."
	default:
		band = "The answer does not address the question."
	}

	if missing := missingRequired(q.RequiredKeywords, r.Text); len(missing) > 0 {
		band += " Key terms needed: " + strings.Join(missing, ", ") + "."
	}
	return band
}

func missingRequired(required []string, answer string) []string {
	if len(required) == 0 {
		return nil
	}
	low := strings.ToLower(answer)
	var missing []string
	for _, kw := range required {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && !strings.Contains(low, kw) {
			missing = append(missing, kw)
		}
	}
	return missing
}

// confidence reflects how clear-cut the score is: extremes are trusted more
// than mid-band scores.
func confidence(f float64) float64 {
	switch {
	case f >= 0.85 || f <= 0.15:
		return 0.95
	case f >= 0.70 || f <= 0.30:
		return 0.85
	default:
		return 0.70
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Percentage of max points represented by the result.
func (r Result) Percentage() float64 {
	if r.MaxPoints == 0 {
		return 0.0
	}
	return r.PointsEarned / r.MaxPoints * 100
}

func (r Result) String() string {
	return fmt.Sprintf("%.2f/%.2f (%s)", r.PointsEarned, r.MaxPoints, r.Method)
}
