// Package exam holds the data model and the attempt lifecycle service of
// the grading and integrity engine.
package exam

import (
	"fmt"
	"time"

	"github.com/examguard/examguard/internal/grading"
	"github.com/examguard/examguard/internal/integrity"
)

// QuestionType is the closed set of gradable question kinds.
type QuestionType string

const (
	QuestionChoice  QuestionType = "choice"
	QuestionBoolean QuestionType = "boolean"
	QuestionShort   QuestionType = "short"
	QuestionEssay   QuestionType = "essay"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionChoice, QuestionBoolean, QuestionShort, QuestionEssay:
		return true
	}
	return false
}

// FreeText reports whether answers of this type carry prose (and therefore
// participate in plagiarism scans and gibberish detection).
func (t QuestionType) FreeText() bool {
	return t == QuestionShort || t == QuestionEssay
}

// Question is immutable once its exam is published.
type Question struct {
	ID               string       `json:"id"`
	Type             QuestionType `json:"type"`
	Text             string       `json:"text"`
	Choices          []string     `json:"choices,omitempty"`
	ReferenceAnswer  string       `json:"reference_answer,omitempty"`
	RubricText       string       `json:"rubric_text,omitempty"`
	RequiredKeywords []string     `json:"required_keywords,omitempty"`
	Points           float64      `json:"points"`
	Order            int          `json:"order"`
}

// Exam configures one assessment. PlagiarismThreshold of zero defers to the
// engine-wide default.
type Exam struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	DurationMinutes     int        `json:"duration_minutes"`
	GraceSeconds        int        `json:"grace_seconds"`
	PassingScore        float64    `json:"passing_score"`
	MaxAttempts         int        `json:"max_attempts"`
	PlagiarismThreshold float64    `json:"plagiarism_threshold,omitempty"`
	Published           bool       `json:"published"`
	Questions           []Question `json:"questions"`
	CreatedAt           int64      `json:"created_at,omitempty"`
}

// Validate is the publish-time gate: it is the single place where new
// question types would fail loudly instead of falling through grading.
func (e Exam) Validate() error {
	if e.DurationMinutes <= 0 {
		return fmt.Errorf("exam %s: duration must be positive", e.ID)
	}
	if e.PassingScore < 0 || e.PassingScore > 100 {
		return fmt.Errorf("exam %s: passing score %v outside [0,100]", e.ID, e.PassingScore)
	}
	if e.MaxAttempts <= 0 {
		return fmt.Errorf("exam %s: max attempts must be positive", e.ID)
	}
	if e.PlagiarismThreshold < 0 || e.PlagiarismThreshold > 1 {
		return fmt.Errorf("exam %s: plagiarism threshold %v outside [0,1]", e.ID, e.PlagiarismThreshold)
	}
	if len(e.Questions) == 0 {
		return fmt.Errorf("exam %s: no questions", e.ID)
	}
	for _, q := range e.Questions {
		if !q.Type.Valid() {
			return fmt.Errorf("exam %s: question %s has unknown type %q", e.ID, q.ID, q.Type)
		}
		if q.Points <= 0 {
			return fmt.Errorf("exam %s: question %s must be worth positive points", e.ID, q.ID)
		}
		if q.Type == QuestionChoice && len(q.Choices) < 2 {
			return fmt.Errorf("exam %s: choice question %s needs at least two choices", e.ID, q.ID)
		}
	}
	return nil
}

// Duration is the nominal time allowed for one attempt.
func (e Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// Grace is the extra window after the nominal deadline during which a late
// submission is still accepted.
func (e Exam) Grace() time.Duration {
	return time.Duration(e.GraceSeconds) * time.Second
}

// MaxPoints is the total points attainable.
func (e Exam) MaxPoints() float64 {
	var sum float64
	for _, q := range e.Questions {
		sum += q.Points
	}
	return sum
}

// question finds a question by id.
func (e Exam) question(id string) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Status is the attempt lifecycle state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusGrading    Status = "grading"
	StatusGraded     Status = "graded"
	StatusFlagged    Status = "flagged"
)

// Terminal reports whether no further lifecycle transition applies (manual
// review of a flagged attempt is an override record, not a transition).
func (s Status) Terminal() bool {
	return s == StatusGraded || s == StatusFlagged
}

// Finished reports whether the attempt has left in_progress.
func (s Status) Finished() bool {
	return s == StatusSubmitted || s == StatusGrading || s.Terminal()
}

// Answer belongs to exactly one (attempt, question) pair. Result stays nil
// until the attempt is graded.
type Answer struct {
	QuestionID     string          `json:"question_id"`
	Text           string          `json:"text,omitempty"`
	SelectedChoice *int            `json:"selected_choice,omitempty"`
	Result         *grading.Result `json:"result,omitempty"`
}

// Override is an explicit manual-review record layered on top of computed
// results; it never mutates them in place.
type Override struct {
	Reviewer string             `json:"reviewer"`
	Note     string             `json:"note,omitempty"`
	Points   map[string]float64 `json:"points"` // questionID -> awarded points
	At       time.Time          `json:"at"`
}

// Attempt is one student's run at one exam.
type Attempt struct {
	ID        string `json:"id"`
	ExamID    string `json:"exam_id"`
	StudentID string `json:"student_id"`
	Number    int    `json:"number"`
	Status    Status `json:"status"`

	StartedAt   time.Time  `json:"started_at"`
	Deadline    time.Time  `json:"deadline"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	GradedAt    *time.Time `json:"graded_at,omitempty"`

	Answers []Answer `json:"answers,omitempty"`

	Counters       integrity.Counters `json:"counters"`
	SuspicionScore float64            `json:"suspicion_score"`
	PriorityReview bool               `json:"priority_review,omitempty"`

	TotalScore float64   `json:"total_score"`
	MaxScore   float64   `json:"max_score"`
	Percentage float64   `json:"percentage"`
	Passed     *bool     `json:"passed,omitempty"`
	Override   *Override `json:"override,omitempty"`

	FirstIP string `json:"first_ip,omitempty"`
	LastIP  string `json:"last_ip,omitempty"`
}

// ActivityEvent is one proctoring observation, append-only per attempt.
type ActivityEvent struct {
	Kind       integrity.EventKind `json:"kind"`
	At         time.Time           `json:"at"`
	ObservedIP string              `json:"observed_ip,omitempty"`
	Flag       string              `json:"flag,omitempty"`
}
