// Package history records every pipeline run in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run kinds.
const (
	KindAudit    = "audit"
	KindGenerate = "generate"
)

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// timeLayout is fixed width so created_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Entry is one recorded run.
type Entry struct {
	ID            string        `json:"id"`
	Kind          string        `json:"kind"`
	Status        string        `json:"status"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	Message       string        `json:"message,omitempty"`
	ContractName  string        `json:"contract_name,omitempty"`
	SecurityScore int           `json:"security_score,omitempty"`
	FilePath      string        `json:"file_path,omitempty"`
	ArchivePath   string        `json:"archive_path,omitempty"`
	Model         string        `json:"model,omitempty"`
	PromptVersion string        `json:"prompt_version,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	Duration      time.Duration `json:"duration"`
}

// DB is the run history store. It is safe for concurrent use; writes are
// serialised through a single connection.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	db.SetMaxOpenConns(1)

	h := &DB{db: db}
	if err := h.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *DB) migrate(ctx context.Context) error {
	const query = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		contract_name TEXT NOT NULL DEFAULT '',
		security_score INTEGER NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL DEFAULT '',
		archive_path TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		prompt_version TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS runs_created_at ON runs(created_at);`
	if _, err := h.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate history: %w", err)
	}
	return nil
}

// Close closes the database.
func (h *DB) Close() error { return h.db.Close() }

// Ping verifies the database is usable.
func (h *DB) Ping(ctx context.Context) error { return h.db.PingContext(ctx) }

// Add inserts or replaces a run entry.
func (h *DB) Add(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errors.New("history entry has no id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	const query = `INSERT OR REPLACE INTO runs (
		id, kind, status, error_kind, message, contract_name, security_score,
		file_path, archive_path, model, prompt_version, created_at, duration_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := h.db.ExecContext(ctx, query,
		e.ID, e.Kind, e.Status, e.ErrorKind, e.Message, e.ContractName, e.SecurityScore,
		e.FilePath, e.ArchivePath, e.Model, e.PromptVersion,
		e.CreatedAt.UTC().Format(timeLayout), e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", e.ID, err)
	}
	return nil
}

const selectColumns = `SELECT id, kind, status, error_kind, message, contract_name, security_score,
	file_path, archive_path, model, prompt_version, created_at, duration_ms FROM runs`

// Recent returns up to n runs, newest first.
func (h *DB) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := h.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return entries, nil
}

// Get returns the run with the given id, or ErrNotFound.
func (h *DB) Get(ctx context.Context, id string) (Entry, error) {
	row := h.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e          Entry
		createdAt  string
		durationMS int64
	)
	err := s.Scan(&e.ID, &e.Kind, &e.Status, &e.ErrorKind, &e.Message, &e.ContractName, &e.SecurityScore,
		&e.FilePath, &e.ArchivePath, &e.Model, &e.PromptVersion, &createdAt, &durationMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan run: %w", err)
	}
	e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	e.Duration = time.Duration(durationMS) * time.Millisecond
	return e, nil
}
