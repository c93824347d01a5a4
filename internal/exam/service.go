package exam

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/examguard/examguard/internal/grading"
	"github.com/examguard/examguard/internal/integrity"
	"github.com/examguard/examguard/internal/plagiarism"
)

// lockStripes bounds lock memory regardless of attempt volume; collisions
// only cost spurious serialization, never correctness.
const lockStripes = 128

// Service is the attempt state machine. It serializes start, submit and
// activity reporting per attempt (and per student+exam for start) and is
// safe for concurrent use across attempts.
type Service struct {
	store   Store
	grader  grading.Grader
	scorer  *integrity.Scorer
	scanner *plagiarism.Scanner
	now     func() time.Time
	log     *zap.Logger

	locks [lockStripes]sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects the time source; tests pin it.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService wires the state machine to its collaborators.
func NewService(store Store, grader grading.Grader, scorer *integrity.Scorer, scanner *plagiarism.Scanner, opts ...Option) *Service {
	s := &Service{
		store:   store,
		grader:  grader,
		scorer:  scorer,
		scanner: scanner,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

// PublishExam validates and stores an exam definition. Questions are
// immutable afterwards.
func (s *Service) PublishExam(ctx context.Context, e Exam) (Exam, error) {
	if err := e.Validate(); err != nil {
		return Exam{}, err
	}
	e.Published = true
	if e.CreatedAt == 0 {
		e.CreatedAt = s.now().Unix()
	}
	if err := s.store.PutExam(ctx, e); err != nil {
		return Exam{}, err
	}
	s.log.Info("exam published", zap.String("exam_id", e.ID), zap.Int("questions", len(e.Questions)))
	return e, nil
}

// Start opens a new attempt. At most one in_progress attempt may exist per
// (student, exam); the check and the creation happen under the pair's lock.
func (s *Service) Start(ctx context.Context, studentID, examID, clientIP string) (Attempt, error) {
	e, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return Attempt{}, err
	}
	if !e.Published {
		return Attempt{}, ErrNotPublished
	}

	lk := s.lockFor("pair:" + studentID + "|" + examID)
	lk.Lock()
	defer lk.Unlock()

	if _, active, err := s.store.ActiveAttempt(ctx, studentID, examID); err != nil {
		return Attempt{}, err
	} else if active {
		return Attempt{}, ErrAlreadyActive
	}
	prior, err := s.store.CountAttempts(ctx, studentID, examID)
	if err != nil {
		return Attempt{}, err
	}
	if prior >= e.MaxAttempts {
		return Attempt{}, ErrAttemptsExhausted
	}

	now := s.now()
	a := Attempt{
		ID:        uuid.NewString(),
		ExamID:    examID,
		StudentID: studentID,
		Number:    prior + 1,
		Status:    StatusInProgress,
		StartedAt: now,
		Deadline:  now.Add(e.Duration() + e.Grace()),
		MaxScore:  e.MaxPoints(),
		FirstIP:   clientIP,
		LastIP:    clientIP,
	}
	if err := s.store.CreateAttempt(ctx, a); err != nil {
		return Attempt{}, err
	}
	s.log.Info("attempt started",
		zap.String("attempt_id", a.ID),
		zap.String("student_id", studentID),
		zap.String("exam_id", examID),
		zap.Int("number", a.Number))
	return a, nil
}

// Submit finalizes an attempt exactly once: it validates timing and state,
// grades every answer, aggregates the totals, applies the final suspicion
// judgment and lands on graded or flagged.
func (s *Service) Submit(ctx context.Context, attemptID string, answers []Answer) (Attempt, error) {
	lk := s.lockFor("attempt:" + attemptID)
	lk.Lock()
	defer lk.Unlock()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.Status.Finished() {
		return Attempt{}, ErrAlreadySubmitted
	}
	if a.Status != StatusInProgress {
		return Attempt{}, ErrAttemptNotActive
	}

	now := s.now()
	if now.After(a.Deadline) {
		// Deadline already includes the grace window; past it the
		// submission is rejected outright, never partially graded.
		return Attempt{}, ErrDeadlineExceeded
	}

	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return Attempt{}, err
	}
	// One answer per question: duplicates would be graded and summed,
	// letting the total exceed the exam's maximum.
	seen := make(map[string]struct{}, len(answers))
	for _, ans := range answers {
		if _, ok := e.question(ans.QuestionID); !ok {
			return Attempt{}, ErrUnknownQuestion
		}
		if _, dup := seen[ans.QuestionID]; dup {
			return Attempt{}, ErrDuplicateAnswer
		}
		seen[ans.QuestionID] = struct{}{}
	}

	// submitted and grading are transient here: the lock makes the whole
	// submit-grade-finalize sequence atomic, so only the terminal state is
	// ever persisted.
	a.SubmittedAt = &now
	a.Answers = answers
	a.Status = StatusGrading

	graded, earned := s.gradeAll(ctx, e, answers)
	a.Answers = graded
	a.TotalScore = round2(earned)
	a.MaxScore = e.MaxPoints()
	if a.MaxScore > 0 {
		a.Percentage = round2(earned / a.MaxScore * 100)
	}
	passed := a.Percentage >= e.PassingScore
	a.Passed = &passed

	score, flagged := s.scorer.Finalize(a.Counters, integrity.Signals{
		TimeTaken: now.Sub(a.StartedAt),
		Duration:  e.Duration(),
		FreeText:  freeTexts(e, graded),
	})
	a.SuspicionScore = score
	if flagged {
		a.Status = StatusFlagged
	} else {
		a.Status = StatusGraded
	}
	a.GradedAt = &now

	if err := s.store.UpdateAttempt(ctx, a); err != nil {
		return Attempt{}, err
	}
	s.log.Info("attempt finalized",
		zap.String("attempt_id", a.ID),
		zap.String("status", string(a.Status)),
		zap.Float64("score", a.TotalScore),
		zap.Float64("percentage", a.Percentage),
		zap.Float64("suspicion", a.SuspicionScore))
	return a, nil
}

// gradeAll grades the answers in parallel; results are joined before any
// aggregate is computed. A failure on one answer degrades to a zero-point
// result pending manual review instead of aborting the submission.
func (s *Service) gradeAll(ctx context.Context, e Exam, answers []Answer) ([]Answer, float64) {
	out := make([]Answer, len(answers))
	copy(out, answers)

	g, gctx := errgroup.WithContext(ctx)
	for i := range out {
		q, _ := e.question(out[i].QuestionID)
		i := i
		g.Go(func() error {
			res, err := s.grader.Grade(gctx, toGradingQ(q), grading.Response{
				Text:           out[i].Text,
				SelectedChoice: out[i].SelectedChoice,
			})
			if err != nil {
				s.log.Warn("answer grading degraded",
					zap.String("question_id", q.ID), zap.Error(err))
				res = grading.Result{
					MaxPoints:         q.Points,
					Feedback:          "Grading failed; pending manual review",
					NeedsManualReview: true,
				}
			}
			out[i].Result = &res
			return nil
		})
	}
	_ = g.Wait()

	var earned float64
	for i := range out {
		if out[i].Result != nil {
			earned += out[i].Result.PointsEarned
		}
	}
	return out, earned
}

// ReportActivity folds one proctoring event into the attempt's counters and
// returns the running suspicion score. Accumulation never ends an attempt;
// crossing the auto-flag threshold only pre-marks it for priority review.
func (s *Service) ReportActivity(ctx context.Context, attemptID string, ev ActivityEvent) (float64, error) {
	lk := s.lockFor("attempt:" + attemptID)
	lk.Lock()
	defer lk.Unlock()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return 0, err
	}
	if a.Status != StatusInProgress {
		return 0, ErrAttemptNotActive
	}

	counters, err := s.scorer.Apply(a.Counters, ev.Kind)
	if err != nil {
		return 0, err
	}

	// Any event arriving from a new address is evidence of an IP change,
	// whatever its reported kind. The derived event is persisted too so
	// that replaying the log reproduces the counters exactly.
	derivedIPChange := false
	if ev.ObservedIP != "" && ev.ObservedIP != a.LastIP {
		if a.LastIP != "" && ev.Kind != integrity.EventIPChange {
			if counters, err = s.scorer.Apply(counters, integrity.EventIPChange); err != nil {
				return 0, err
			}
			derivedIPChange = true
		}
		a.LastIP = ev.ObservedIP
	}
	a.Counters = counters

	if ev.At.IsZero() {
		ev.At = s.now()
	}

	a.SuspicionScore = s.scorer.Score(a.Counters)
	if a.SuspicionScore >= s.scorer.AutoFlagThreshold() {
		a.PriorityReview = true
	}

	if err := s.store.AppendEvent(ctx, attemptID, ev); err != nil {
		return 0, err
	}
	if derivedIPChange {
		derived := ActivityEvent{Kind: integrity.EventIPChange, At: ev.At, ObservedIP: ev.ObservedIP}
		if err := s.store.AppendEvent(ctx, attemptID, derived); err != nil {
			return 0, err
		}
	}
	if err := s.store.UpdateAttempt(ctx, a); err != nil {
		return 0, err
	}
	return a.SuspicionScore, nil
}

// AuditSuspicion recomputes the streaming score from the persisted event
// history; a mismatch with the stored counters indicates tampering or a
// missed write.
func (s *Service) AuditSuspicion(ctx context.Context, attemptID string) (float64, error) {
	evs, err := s.store.ListEvents(ctx, attemptID)
	if err != nil {
		return 0, err
	}
	kinds := make([]integrity.EventKind, len(evs))
	for i, ev := range evs {
		kinds[i] = ev.Kind
	}
	c, err := s.scorer.Replay(kinds)
	if err != nil {
		return 0, err
	}
	return s.scorer.Score(c), nil
}

// ScanPlagiarism runs a read-only pairwise scan over the submitted answers
// of an exam. It holds no per-attempt locks and operates on the snapshot
// taken at call time. threshold <= 0 uses the exam's own threshold, then
// the engine default.
func (s *Service) ScanPlagiarism(ctx context.Context, examID string, threshold float64) (plagiarism.Report, error) {
	e, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return plagiarism.Report{}, err
	}
	if threshold <= 0 {
		threshold = e.PlagiarismThreshold
	}

	attempts, err := s.store.ListAttempts(ctx, examID,
		StatusSubmitted, StatusGrading, StatusGraded, StatusFlagged)
	if err != nil {
		return plagiarism.Report{}, err
	}

	var candidates []plagiarism.Answer
	for _, a := range attempts {
		for _, ans := range a.Answers {
			q, ok := e.question(ans.QuestionID)
			if !ok || !q.Type.FreeText() || ans.Text == "" {
				continue
			}
			candidates = append(candidates, plagiarism.Answer{
				QuestionID: ans.QuestionID,
				AttemptID:  a.ID,
				StudentID:  a.StudentID,
				Text:       ans.Text,
			})
		}
	}
	rep := s.scanner.Scan(candidates, threshold)
	s.log.Info("plagiarism scan complete",
		zap.String("exam_id", examID),
		zap.Int("candidates", len(candidates)),
		zap.Int("flags", len(rep.Flags)))
	return rep, nil
}

// OverrideReview records an educator's manual review of a flagged attempt.
// Awarded points replace the computed ones per question; totals are
// re-derived and the attempt becomes graded.
func (s *Service) OverrideReview(ctx context.Context, attemptID, reviewer string, points map[string]float64, note string) (Attempt, error) {
	lk := s.lockFor("attempt:" + attemptID)
	lk.Lock()
	defer lk.Unlock()

	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if !a.Status.Terminal() {
		return Attempt{}, ErrAttemptNotActive
	}
	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return Attempt{}, err
	}
	for qid, pts := range points {
		q, ok := e.question(qid)
		if !ok {
			return Attempt{}, ErrUnknownQuestion
		}
		if pts < 0 || pts > q.Points {
			pts = math.Max(0, math.Min(pts, q.Points))
			points[qid] = pts
		}
	}

	now := s.now()
	a.Override = &Override{Reviewer: reviewer, Note: note, Points: points, At: now}

	var earned float64
	for _, ans := range a.Answers {
		if pts, ok := points[ans.QuestionID]; ok {
			earned += pts
		} else if ans.Result != nil {
			earned += ans.Result.PointsEarned
		}
	}
	a.TotalScore = round2(earned)
	if a.MaxScore > 0 {
		a.Percentage = round2(earned / a.MaxScore * 100)
	}
	passed := a.Percentage >= e.PassingScore
	a.Passed = &passed
	a.Status = StatusGraded

	if err := s.store.UpdateAttempt(ctx, a); err != nil {
		return Attempt{}, err
	}
	s.log.Info("attempt override recorded",
		zap.String("attempt_id", a.ID), zap.String("reviewer", reviewer))
	return a, nil
}

// GetAttempt returns one attempt.
func (s *Service) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	return s.store.GetAttempt(ctx, id)
}

// GetExam returns an exam with reference answers and rubrics stripped when
// forStudent is set.
func (s *Service) GetExam(ctx context.Context, id string, forStudent bool) (Exam, error) {
	e, err := s.store.GetExam(ctx, id)
	if err != nil {
		return Exam{}, err
	}
	if forStudent {
		qs := make([]Question, len(e.Questions))
		copy(qs, e.Questions)
		for i := range qs {
			qs[i].ReferenceAnswer = ""
			qs[i].RubricText = ""
			qs[i].RequiredKeywords = nil
		}
		e.Questions = qs
	}
	return e, nil
}

// ListExamAttempts returns all attempts of an exam, any status.
func (s *Service) ListExamAttempts(ctx context.Context, examID string) ([]Attempt, error) {
	return s.store.ListAttempts(ctx, examID)
}

func toGradingQ(q Question) grading.Q {
	return grading.Q{
		Type:             string(q.Type),
		Text:             q.Text,
		Choices:          q.Choices,
		ReferenceAnswer:  q.ReferenceAnswer,
		RubricText:       q.RubricText,
		RequiredKeywords: q.RequiredKeywords,
		Points:           q.Points,
	}
}

func freeTexts(e Exam, answers []Answer) []string {
	var out []string
	for _, a := range answers {
		if q, ok := e.question(a.QuestionID); ok && q.Type.FreeText() && a.Text != "" {
			out = append(out, a.Text)
		}
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
