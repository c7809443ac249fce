// Package audit keeps the local access journal in the access_log table.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/orchestrator"
)

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one journaled access cycle.
type Entry struct {
	ID         string        `json:"id"`
	Outcome    string        `json:"outcome"`
	Credential string        `json:"credential"`
	Digest     string        `json:"digest,omitempty"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Outcome string    // optional: granted, denied, timeout, protocol_failure
	Since   time.Time // optional: entries at or after this time
	Limit   int       // default 50, max 500
	Offset  int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository is the journal store.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the journal in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal over db. The access_log table
// must already exist.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordAttempt journals a finished cycle. It satisfies
// orchestrator.Recorder.
func (r *SQLiteRepository) RecordAttempt(ctx context.Context, a orchestrator.Attempt) error {
	return r.Create(ctx, &Entry{
		Outcome:    a.Outcome.String(),
		Credential: a.Credential,
		Digest:     a.Digest,
		Duration:   a.Duration,
		CreatedAt:  a.Time,
	})
}

// Create inserts e, filling ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO access_log (id, outcome, credential, digest, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Outcome, e.Credential, nullableString(e.Digest),
		e.Duration.Milliseconds(), e.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting access log: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM access_log " + where //nolint:gosec // conditions are fixed strings with ? placeholders
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting access log: %w", err)
	}

	query := "SELECT id, outcome, credential, digest, duration_ms, created_at FROM access_log " + //nolint:gosec // as above
		where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying access log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			digest     sql.NullString
			durationMS int64
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.Outcome, &e.Credential, &digest, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning access log: %w", err)
		}
		e.Digest = digest.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing access log timestamp %q: %w", createdAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
