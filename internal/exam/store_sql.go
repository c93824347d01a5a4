package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/examguard/examguard/internal/integrity"
)

// SQLStore persists the engine in SQLite or Postgres. Structured fields
// (questions, answers, counters, override) travel as JSON columns; times are
// unix seconds.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) PutExam(ctx context.Context, e Exam) error {
	qj, err := json.Marshal(e.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO exams
		(id,title,duration_minutes,grace_seconds,passing_score,max_attempts,plagiarism_threshold,published,questions_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
		  title=EXCLUDED.title, duration_minutes=EXCLUDED.duration_minutes,
		  grace_seconds=EXCLUDED.grace_seconds, passing_score=EXCLUDED.passing_score,
		  max_attempts=EXCLUDED.max_attempts, plagiarism_threshold=EXCLUDED.plagiarism_threshold,
		  published=EXCLUDED.published, questions_json=EXCLUDED.questions_json`,
		e.ID, e.Title, e.DurationMinutes, e.GraceSeconds, e.PassingScore,
		e.MaxAttempts, e.PlagiarismThreshold, e.Published, string(qj), e.CreatedAt)
	return err
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id,title,duration_minutes,grace_seconds,passing_score,max_attempts,plagiarism_threshold,published,questions_json,created_at
		FROM exams WHERE id=$1`, id)
	var e Exam
	var qjson string
	if err := row.Scan(&e.ID, &e.Title, &e.DurationMinutes, &e.GraceSeconds,
		&e.PassingScore, &e.MaxAttempts, &e.PlagiarismThreshold, &e.Published,
		&qjson, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, ErrExamNotFound
		}
		return Exam{}, err
	}
	if err := json.Unmarshal([]byte(qjson), &e.Questions); err != nil {
		return Exam{}, fmt.Errorf("exam %s: decode questions: %w", id, err)
	}
	return e, nil
}

const attemptCols = `id,exam_id,student_id,number,status,started_at,deadline,
	submitted_at,graded_at,total_score,max_score,percentage,passed,
	suspicion_score,priority_review,counters_json,answers_json,override_json,
	first_ip,last_ip`

func (s *SQLStore) CreateAttempt(ctx context.Context, a Attempt) error {
	cols, err := marshalAttempt(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO attempts (`+attemptCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		a.ID, a.ExamID, a.StudentID, a.Number, string(a.Status),
		a.StartedAt.Unix(), a.Deadline.Unix(), unixPtr(a.SubmittedAt), unixPtr(a.GradedAt),
		a.TotalScore, a.MaxScore, a.Percentage, boolPtr(a.Passed),
		a.SuspicionScore, a.PriorityReview,
		cols.counters, cols.answers, cols.override, a.FirstIP, a.LastIP)
	return err
}

func (s *SQLStore) UpdateAttempt(ctx context.Context, a Attempt) error {
	cols, err := marshalAttempt(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET
		status=$1, submitted_at=$2, graded_at=$3,
		total_score=$4, max_score=$5, percentage=$6, passed=$7,
		suspicion_score=$8, priority_review=$9,
		counters_json=$10, answers_json=$11, override_json=$12, last_ip=$13
		WHERE id=$14`,
		string(a.Status), unixPtr(a.SubmittedAt), unixPtr(a.GradedAt),
		a.TotalScore, a.MaxScore, a.Percentage, boolPtr(a.Passed),
		a.SuspicionScore, a.PriorityReview,
		cols.counters, cols.answers, cols.override, a.LastIP, a.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id=$1`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, err
}

func (s *SQLStore) CountAttempts(ctx context.Context, studentID, examID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE student_id=$1 AND exam_id=$2`,
		studentID, examID).Scan(&n)
	return n, err
}

func (s *SQLStore) ActiveAttempt(ctx context.Context, studentID, examID string) (Attempt, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts
		WHERE student_id=$1 AND exam_id=$2 AND status=$3 LIMIT 1`,
		studentID, examID, string(StatusInProgress))
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, false, nil
	}
	if err != nil {
		return Attempt{}, false, err
	}
	return a, true, nil
}

func (s *SQLStore) ListAttempts(ctx context.Context, examID string, statuses ...Status) ([]Attempt, error) {
	query := `SELECT ` + attemptCols + ` FROM attempts WHERE exam_id=$1`
	args := []any{examID}
	if len(statuses) > 0 {
		query += ` AND status IN (`
		for i, st := range statuses {
			if i > 0 {
				query += `,`
			}
			query += fmt.Sprintf(`$%d`, len(args)+1)
			args = append(args, string(st))
		}
		query += `)`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendEvent(ctx context.Context, attemptID string, ev ActivityEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO activity_log
		(attempt_id,kind,observed_ip,flag,created_at) VALUES ($1,$2,$3,$4,$5)`,
		attemptID, string(ev.Kind), ev.ObservedIP, ev.Flag, ev.At.Unix())
	return err
}

func (s *SQLStore) ListEvents(ctx context.Context, attemptID string) ([]ActivityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind,observed_ip,flag,created_at
		FROM activity_log WHERE attempt_id=$1 ORDER BY "offset"`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActivityEvent
	for rows.Next() {
		var ev ActivityEvent
		var kind string
		var at int64
		if err := rows.Scan(&kind, &ev.ObservedIP, &ev.Flag, &at); err != nil {
			return nil, err
		}
		ev.Kind = integrity.EventKind(kind)
		ev.At = time.Unix(at, 0).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

type attemptJSON struct {
	counters string
	answers  string
	override sql.NullString
}

func marshalAttempt(a Attempt) (attemptJSON, error) {
	var cols attemptJSON
	cj, err := json.Marshal(a.Counters)
	if err != nil {
		return cols, fmt.Errorf("marshal counters: %w", err)
	}
	cols.counters = string(cj)
	aj, err := json.Marshal(a.Answers)
	if err != nil {
		return cols, fmt.Errorf("marshal answers: %w", err)
	}
	cols.answers = string(aj)
	if a.Override != nil {
		oj, err := json.Marshal(a.Override)
		if err != nil {
			return cols, fmt.Errorf("marshal override: %w", err)
		}
		cols.override = sql.NullString{String: string(oj), Valid: true}
	}
	return cols, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var a Attempt
	var status string
	var started, deadline int64
	var submitted, graded sql.NullInt64
	var passed sql.NullBool
	var counters, answers string
	var override sql.NullString

	if err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Number, &status,
		&started, &deadline, &submitted, &graded,
		&a.TotalScore, &a.MaxScore, &a.Percentage, &passed,
		&a.SuspicionScore, &a.PriorityReview,
		&counters, &answers, &override, &a.FirstIP, &a.LastIP); err != nil {
		return Attempt{}, err
	}

	a.Status = Status(status)
	a.StartedAt = time.Unix(started, 0).UTC()
	a.Deadline = time.Unix(deadline, 0).UTC()
	if submitted.Valid {
		t := time.Unix(submitted.Int64, 0).UTC()
		a.SubmittedAt = &t
	}
	if graded.Valid {
		t := time.Unix(graded.Int64, 0).UTC()
		a.GradedAt = &t
	}
	if passed.Valid {
		a.Passed = &passed.Bool
	}
	if err := json.Unmarshal([]byte(counters), &a.Counters); err != nil {
		return Attempt{}, fmt.Errorf("attempt %s: decode counters: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return Attempt{}, fmt.Errorf("attempt %s: decode answers: %w", a.ID, err)
	}
	if override.Valid && override.String != "" {
		a.Override = &Override{}
		if err := json.Unmarshal([]byte(override.String), a.Override); err != nil {
			return Attempt{}, fmt.Errorf("attempt %s: decode override: %w", a.ID, err)
		}
	}
	return a, nil
}

func unixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolPtr(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
