// Package plagiarism compares the free-text answers submitted to the same
// question across an exam's attempts and flags suspiciously similar pairs.
// A scan is a pure, read-only batch pass over a snapshot of answers; flags
// are advisory output for educator review, never exam state.
package plagiarism

import (
	"math"
	"sort"
	"strings"

	"github.com/examguard/examguard/internal/similarity"
)

// DefaultThreshold flags answer pairs at or above 85% similarity.
const DefaultThreshold = 0.85

// minAnswerLength filters out trivially short answers, which would otherwise
// collide at high similarity by chance.
const minAnswerLength = 20

// Answer is one candidate free-text answer in a scan snapshot.
type Answer struct {
	QuestionID string
	AttemptID  string
	StudentID  string
	Text       string
}

// Flag marks one suspiciously similar pair of answers to a question. The
// attempt pair is stored with AttemptA < AttemptB.
type Flag struct {
	QuestionID        string  `json:"question_id"`
	AttemptA          string  `json:"attempt_a"`
	AttemptB          string  `json:"attempt_b"`
	StudentA          string  `json:"student_a"`
	StudentB          string  `json:"student_b"`
	SimilarityPercent float64 `json:"similarity_percent"`
}

// AttemptStat aggregates the flags touching one attempt.
type AttemptStat struct {
	MaxSimilarity float64 `json:"max_similarity"`
	AvgSimilarity float64 `json:"avg_similarity"`
	FlagCount     int     `json:"flag_count"`
}

// Report is the outcome of one scan run.
type Report struct {
	Flags        []Flag                 `json:"flags"`
	AttemptStats map[string]AttemptStat `json:"attempt_stats"`
	TotalChecked int                    `json:"total_checked"`
	Detected     bool                   `json:"detected"`
}

// Scanner runs pairwise similarity scans with a configured default
// threshold. Safe for concurrent use; Scan holds no locks.
type Scanner struct {
	threshold float64
}

// NewScanner builds a scanner with the given default threshold, falling
// back to DefaultThreshold when threshold is zero.
func NewScanner(threshold float64) *Scanner {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Scanner{threshold: threshold}
}

// Scan groups answers by question, computes the pairwise similarity matrix
// per question, and returns every pair at or above the threshold (the
// scanner default when threshold <= 0). Output ordering is deterministic:
// similarity descending, then question ID ascending, then the attempt pair
// ascending.
func (s *Scanner) Scan(answers []Answer, threshold float64) Report {
	if threshold <= 0 {
		threshold = s.threshold
	}

	byQuestion := make(map[string][]Answer)
	for _, a := range answers {
		if len(strings.TrimSpace(a.Text)) <= minAnswerLength {
			continue
		}
		byQuestion[a.QuestionID] = append(byQuestion[a.QuestionID], a)
	}

	rep := Report{AttemptStats: make(map[string]AttemptStat)}
	perAttempt := make(map[string][]float64)

	for qid, group := range byQuestion {
		if len(group) < 2 {
			continue
		}
		rep.TotalChecked += len(group)
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				sim := similarity.Score(group[i].Text, group[j].Text)
				if sim < threshold {
					continue
				}
				f := newFlag(qid, group[i], group[j], sim)
				rep.Flags = append(rep.Flags, f)
				perAttempt[f.AttemptA] = append(perAttempt[f.AttemptA], f.SimilarityPercent)
				perAttempt[f.AttemptB] = append(perAttempt[f.AttemptB], f.SimilarityPercent)
			}
		}
	}

	sort.Slice(rep.Flags, func(i, j int) bool {
		a, b := rep.Flags[i], rep.Flags[j]
		if a.SimilarityPercent != b.SimilarityPercent {
			return a.SimilarityPercent > b.SimilarityPercent
		}
		if a.QuestionID != b.QuestionID {
			return a.QuestionID < b.QuestionID
		}
		if a.AttemptA != b.AttemptA {
			return a.AttemptA < b.AttemptA
		}
		return a.AttemptB < b.AttemptB
	})

	for id, sims := range perAttempt {
		st := AttemptStat{FlagCount: len(sims)}
		var sum float64
		for _, v := range sims {
			sum += v
			if v > st.MaxSimilarity {
				st.MaxSimilarity = v
			}
		}
		st.AvgSimilarity = round2(sum / float64(len(sims)))
		rep.AttemptStats[id] = st
	}

	rep.Detected = len(rep.Flags) > 0
	return rep
}

// Compare scores two specific texts with the scanner's pipeline.
func (s *Scanner) Compare(a, b string) float64 {
	return similarity.Score(a, b)
}

func newFlag(qid string, a, b Answer, sim float64) Flag {
	if b.AttemptID < a.AttemptID {
		a, b = b, a
	}
	return Flag{
		QuestionID:        qid,
		AttemptA:          a.AttemptID,
		AttemptB:          b.AttemptID,
		StudentA:          a.StudentID,
		StudentB:          b.StudentID,
		SimilarityPercent: round2(sim * 100),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
