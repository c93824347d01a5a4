package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:examguard.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/examguard?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS exams (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  duration_minutes INTEGER NOT NULL,
  grace_seconds INTEGER NOT NULL DEFAULT 0,
  passing_score REAL NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 1,
  plagiarism_threshold REAL NOT NULL DEFAULT 0,
  published INTEGER NOT NULL DEFAULT 0,
  questions_json TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
  student_id TEXT NOT NULL,
  number INTEGER NOT NULL,
  status TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  deadline INTEGER NOT NULL,
  submitted_at INTEGER,
  graded_at INTEGER,
  total_score REAL NOT NULL DEFAULT 0,
  max_score REAL NOT NULL DEFAULT 0,
  percentage REAL NOT NULL DEFAULT 0,
  passed INTEGER,
  suspicion_score REAL NOT NULL DEFAULT 0,
  priority_review INTEGER NOT NULL DEFAULT 0,
  counters_json TEXT NOT NULL,
  answers_json TEXT NOT NULL,
  override_json TEXT,
  first_ip TEXT NOT NULL DEFAULT '',
  last_ip TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_attempts_student_exam ON attempts (student_id, exam_id);
CREATE INDEX IF NOT EXISTS idx_attempts_exam_status ON attempts (exam_id, status);

CREATE TABLE IF NOT EXISTS activity_log (
  offset INTEGER PRIMARY KEY AUTOINCREMENT, -- BIGSERIAL in Postgres
  attempt_id TEXT NOT NULL REFERENCES attempts(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  observed_ip TEXT NOT NULL DEFAULT '',
  flag TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_attempt ON activity_log (attempt_id);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS exams (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  duration_minutes INTEGER NOT NULL,
  grace_seconds INTEGER NOT NULL DEFAULT 0,
  passing_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 1,
  plagiarism_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
  published BOOLEAN NOT NULL DEFAULT FALSE,
  questions_json TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
  student_id TEXT NOT NULL,
  number INTEGER NOT NULL,
  status TEXT NOT NULL,
  started_at BIGINT NOT NULL,
  deadline BIGINT NOT NULL,
  submitted_at BIGINT,
  graded_at BIGINT,
  total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  max_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
  passed BOOLEAN,
  suspicion_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  priority_review BOOLEAN NOT NULL DEFAULT FALSE,
  counters_json TEXT NOT NULL,
  answers_json TEXT NOT NULL,
  override_json TEXT,
  first_ip TEXT NOT NULL DEFAULT '',
  last_ip TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_attempts_student_exam ON attempts (student_id, exam_id);
CREATE INDEX IF NOT EXISTS idx_attempts_exam_status ON attempts (exam_id, status);

CREATE TABLE IF NOT EXISTS activity_log (
  "offset" BIGSERIAL PRIMARY KEY,
  attempt_id TEXT NOT NULL REFERENCES attempts(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  observed_ip TEXT NOT NULL DEFAULT '',
  flag TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_attempt ON activity_log (attempt_id);
`
