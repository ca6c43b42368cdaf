// Package ledger records acquisition runs and the outcome of every item in
// them, in SQLite or PostgreSQL.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pevans/papercrawl/article"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusStopped   = "stopped"
)

// Custom errors for ledger operations
var (
	ErrRunNotFound       = errors.New("run not found")
	ErrUnsupportedDriver = errors.New("unsupported ledger driver")
)

// Counts summarizes the items of a run.
type Counts struct {
	Total     int `json:"total"`
	Skipped   int `json:"skipped"`
	Succeeded int `json:"succeeded"`
	Exhausted int `json:"exhausted"`
}

// Run is one invocation of the orchestrator.
type Run struct {
	RunID      uuid.UUID  `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Counts
}

// Attempt is the final state of one item within a run.
type Attempt struct {
	RunID      uuid.UUID `json:"run_id"`
	Date       string    `json:"date"`
	Page       string    `json:"page"`
	Ref        string    `json:"ref"`
	State      string    `json:"state"`
	Strategy   string    `json:"strategy,omitempty"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Ledger manages runs and attempts.
type Ledger struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
}

// Open connects to the ledger database and creates its tables if needed.
func Open(driver, dsn string) (*Ledger, error) {
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	switch driver {
	case DriverSQLite:
	case DriverPostgres:
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// One writer at a time avoids "database is locked"
		db.SetMaxOpenConns(1)
	}

	l := &Ledger{db: db, driver: driver, sb: sb}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return l, nil
}

// initSchema creates the runs and attempts tables if they don't exist.
func (l *Ledger) initSchema() error {
	attemptID := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if l.driver == DriverPostgres {
		attemptID = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			total INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			succeeded INTEGER NOT NULL DEFAULT 0,
			exhausted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			attempt_id ` + attemptID + `,
			run_id TEXT NOT NULL,
			date TEXT NOT NULL,
			page TEXT NOT NULL,
			ref TEXT NOT NULL,
			state TEXT NOT NULL,
			strategy TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			reason TEXT,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS attempts_key ON attempts (date, ref)`,
	}

	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun opens a new run in the running state.
func (l *Ledger) StartRun(ctx context.Context, startedAt time.Time) (*Run, error) {
	run := &Run{
		RunID:     uuid.New(),
		StartedAt: startedAt.Truncate(0),
		Status:    StatusRunning,
	}

	query, args, err := l.sb.Insert("runs").
		Columns("run_id", "started_at", "status").
		Values(run.RunID.String(), formatTime(&run.StartedAt), run.Status).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// RecordItem stores the final state of one item of a run.
func (l *Ledger) RecordItem(ctx context.Context, a Attempt) error {
	query, args, err := l.sb.Insert("attempts").
		Columns("run_id", "date", "page", "ref", "state", "strategy", "attempts", "reason", "recorded_at").
		Values(a.RunID.String(), a.Date, a.Page, a.Ref, a.State,
			nullString(a.Strategy), a.Attempts, nullString(a.Reason), formatTime(&a.RecordedAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// FinishRun closes a run with its final status and counts.
func (l *Ledger) FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status string, counts Counts) error {
	query, args, err := l.sb.Update("runs").
		Set("finished_at", formatTime(&finishedAt)).
		Set("status", status).
		Set("total", counts.Total).
		Set("skipped", counts.Skipped).
		Set("succeeded", counts.Succeeded).
		Set("exhausted", counts.Exhausted).
		Where(sq.Eq{"run_id": runID.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	result, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (l *Ledger) selectRuns() sq.SelectBuilder {
	return l.sb.Select("run_id", "started_at", "finished_at", "status",
		"total", "skipped", "succeeded", "exhausted").
		From("runs")
}

// GetRun retrieves a run by ID.
func (l *Ledger) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	query, args, err := l.selectRuns().Where(sq.Eq{"run_id": runID.String()}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	run, err := scanRun(l.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A limit of zero returns all.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	b := l.selectRuns().OrderBy("started_at DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ItemHistory returns every recorded attempt for an article, oldest first.
func (l *Ledger) ItemHistory(ctx context.Context, key article.Key) ([]Attempt, error) {
	query, args, err := l.sb.Select("run_id", "date", "page", "ref", "state",
		"strategy", "attempts", "reason", "recorded_at").
		From("attempts").
		Where(sq.Eq{"date": key.Date, "ref": key.Ref}).
		OrderBy("attempt_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		var runID, recordedAt string
		var strategy, reason sql.NullString
		if err := rows.Scan(&runID, &a.Date, &a.Page, &a.Ref, &a.State,
			&strategy, &a.Attempts, &reason, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		a.RunID, err = uuid.Parse(runID)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run ID: %w", err)
		}
		a.Strategy = strategy.String
		a.Reason = reason.String
		a.RecordedAt = parseTime(recordedAt)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var runID, startedAt string
	var finishedAt sql.NullString
	run := &Run{}

	err := row.Scan(&runID, &startedAt, &finishedAt, &run.Status,
		&run.Total, &run.Skipped, &run.Succeeded, &run.Exhausted)
	if err != nil {
		return nil, err
	}

	run.RunID, err = uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run ID: %w", err)
	}
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	return run, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Helper functions for time formatting
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	// Fixed-width UTC so that text ordering matches time ordering
	return t.Truncate(0).UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	// Try RFC3339Nano first, fall back to RFC3339 for compatibility
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.Truncate(0)
}
