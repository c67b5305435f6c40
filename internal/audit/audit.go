// Package audit keeps a SQLite archive of terminal jobs. The registry evicts
// terminal records after the audit window; the archive is what remains of a
// job after that. It is write-behind only: nothing reads it back into live
// engine state.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finworks/reportd/internal/model"

	_ "modernc.org/sqlite"
)

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS job_history (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    definition_uri TEXT NOT NULL,
    submitted_by   TEXT,
    priority       INTEGER NOT NULL,
    status         TEXT NOT NULL,
    message        TEXT,
    error_cause    TEXT,
    error_message  TEXT,
    file_count     INTEGER NOT NULL,
    file_bytes     INTEGER NOT NULL,
    created_at     DATETIME NOT NULL,
    started_at     DATETIME,
    completed_at   DATETIME NOT NULL
)`

// ErrNotFound is returned when an archived job is not found.
var ErrNotFound = errors.New("archived job not found")

// Entry is one archived terminal job.
type Entry struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	DefinitionURI string     `json:"definition_uri"`
	SubmittedBy   string     `json:"submitted_by,omitempty"`
	Priority      int        `json:"priority"`
	Status        string     `json:"status"`
	Message       string     `json:"message,omitempty"`
	ErrorCause    string     `json:"error_cause,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	FileCount     int        `json:"file_count"`
	FileBytes     int64      `json:"file_bytes"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   time.Time  `json:"completed_at"`
}

// Store archives terminal jobs in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the archive database at dbPath and runs migrations.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createHistoryTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Run consumes job lifecycle events until the channel closes, archiving each
// terminal snapshot. Archive failures are logged and skipped so archiving can
// never interfere with execution.
func (s *Store) Run(events <-chan *model.Job) {
	for job := range events {
		if !model.IsTerminal(job.Status) {
			continue
		}
		if err := s.Record(context.Background(), job); err != nil {
			s.logger.Error("archive job", "job_id", job.ID, "error", err)
		}
	}
}

// Record inserts one terminal job into the archive.
func (s *Store) Record(ctx context.Context, job *model.Job) error {
	var errCause, errMessage string
	if job.Error != nil {
		errCause = job.Error.Cause
		errMessage = job.Error.Message
	}
	var fileBytes int64
	for _, f := range job.OutputFiles {
		fileBytes += f.Size
	}
	completedAt := time.Now().UTC()
	if job.CompletedAt != nil {
		completedAt = *job.CompletedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_history (
			id, name, definition_uri, submitted_by, priority, status,
			message, error_cause, error_message, file_count, file_bytes,
			created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.DefinitionURI, job.SubmittedBy, job.Priority, job.Status,
		job.Message, errCause, errMessage, len(job.OutputFiles), fileBytes,
		job.CreatedAt, job.StartedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Get retrieves an archived job by ID.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	e := &Entry{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, definition_uri, submitted_by, priority, status,
			message, error_cause, error_message, file_count, file_bytes,
			created_at, started_at, completed_at
		FROM job_history WHERE id = ?`, id,
	).Scan(
		&e.ID, &e.Name, &e.DefinitionURI, &e.SubmittedBy, &e.Priority, &e.Status,
		&e.Message, &e.ErrorCause, &e.ErrorMessage, &e.FileCount, &e.FileBytes,
		&e.CreatedAt, &e.StartedAt, &e.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get history entry: %w", err)
	}
	return e, nil
}

// History returns a paginated list of archived jobs ordered by completion
// time, newest first, along with the total number of archived jobs.
func (s *Store) History(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM job_history").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history entries: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, name, definition_uri, submitted_by, priority, status,
			message, error_cause, error_message, file_count, file_bytes,
			created_at, started_at, completed_at
		FROM job_history ORDER BY completed_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list history entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(
			&e.ID, &e.Name, &e.DefinitionURI, &e.SubmittedBy, &e.Priority, &e.Status,
			&e.Message, &e.ErrorCause, &e.ErrorMessage, &e.FileCount, &e.FileBytes,
			&e.CreatedAt, &e.StartedAt, &e.CompletedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate history entries: %w", err)
	}

	return entries, total, nil
}
