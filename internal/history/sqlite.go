package history

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"os"
	"path/filepath"
	"time"

	apperrors "PS3DL/internal/errors"
	"PS3DL/internal/model"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	target_id     TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	artifact_path TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	started_at    TEXT NOT NULL,
	finished_at   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_target_status ON runs (target_id, status, started_at);
`

const runColumns = `id, target_id, title, status, artifact_path, error, started_at, finished_at`

// SQLiteRepository persists acquisition runs in a SQLite database file.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// Option customises a SQLiteRepository.
type Option func(*SQLiteRepository)

// WithClock overrides the time source used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *SQLiteRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewSQLiteRepository wires a SQLite-backed implementation of Repository.
func NewSQLiteRepository(db *sql.DB, opts ...Option) *SQLiteRepository {
	r := &SQLiteRepository{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open creates (if needed) and bootstraps the database at path.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, dbError("failed to create history directory", err).WithField("path", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, dbError("failed to open history database", err).WithField("path", path)
	}
	// one writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	repo := NewSQLiteRepository(db, opts...)
	if err := repo.Bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Bootstrap creates the schema.
func (r *SQLiteRepository) Bootstrap(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return dbError("failed to create history schema", err).WithOperation("Bootstrap")
	}
	return nil
}

// Start records a new running attempt for target.
func (r *SQLiteRepository) Start(ctx context.Context, target model.Target) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		TargetID:  target.ID,
		Title:     target.DisplayTitle(),
		Status:    StatusRunning,
		StartedAt: r.now().UTC(),
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, target_id, title, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.TargetID, run.Title, string(run.Status), formatTime(run.StartedAt))
	if err != nil {
		return Run{}, dbError("failed to record run start", err).
			WithOperation("Start").
			WithField("target", target.ID)
	}
	return run, nil
}

// Finish stores the final status of run id.
func (r *SQLiteRepository) Finish(ctx context.Context, id string, status Status, artifactPath, errText string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, artifact_path = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), artifactPath, errText, formatTime(r.now().UTC()), id)
	if err != nil {
		return dbError("failed to record run result", err).WithOperation("Finish").WithField("run_id", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFoundError(apperrors.CodeDatabaseGeneric, "run not found", nil).
			WithModule("history").
			WithOperation("Finish").
			WithField("run_id", id)
	}
	return nil
}

func (r *SQLiteRepository) LastCompleted(ctx context.Context, targetID string) (Run, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE target_id = ? AND status = ?
		 ORDER BY finished_at DESC, rowid DESC LIMIT 1`,
		targetID, string(StatusCompleted))

	run, err := scanRun(row)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, dbError("failed to query history", err).
			WithOperation("LastCompleted").
			WithField("target", targetID)
	}
	return run, true, nil
}

// Recent lists up to limit runs, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, dbError("failed to query history", err).WithOperation("Recent")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, dbError("failed to read history row", err).WithOperation("Recent")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to read history rows", err).WithOperation("Recent")
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run               Run
		status            string
		started, finished string
	)
	if err := s.Scan(&run.ID, &run.TargetID, &run.Title, &status, &run.ArtifactPath, &run.Error, &started, &finished); err != nil {
		return Run{}, err
	}
	run.Status = Status(status)
	run.StartedAt = parseTime(started)
	run.FinishedAt = parseTime(finished)
	return run, nil
}

// fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func dbError(msg string, err error) *apperrors.AppError {
	return apperrors.DatabaseError(apperrors.CodeDatabaseGeneric, msg, err).WithModule("history")
}

var _ Repository = (*SQLiteRepository)(nil)
