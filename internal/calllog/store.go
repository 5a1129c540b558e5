// Package calllog keeps a history of finished calls in SQLite so missed calls
// survive the short-lived session process.
package calllog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver
)

// ErrNotFound is returned when no entry matches the id.
var ErrNotFound = errors.New("call log entry not found")

// Entry is one finished call.
type Entry struct {
	ID        uuid.UUID
	Peer      string
	Incoming  bool
	Answered  bool
	Missed    bool
	EndReason string
	EndedAt   time.Time
	Duration  time.Duration
}

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id          TEXT PRIMARY KEY,
	peer        TEXT NOT NULL,
	incoming    INTEGER NOT NULL,
	answered    INTEGER NOT NULL,
	missed      INTEGER NOT NULL,
	end_reason  TEXT NOT NULL,
	ended_at    INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS calls_ended_at ON calls(ended_at);
`

// Store is a SQLite-backed call log.
type Store struct {
	db *sql.DB
}

// Open opens or creates the call log at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create call log dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate call log: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts e. A zero ID is replaced with a new one.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.EndedAt.IsZero() {
		e.EndedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO calls(id, peer, incoming, answered, missed, end_reason, ended_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Peer, boolInt(e.Incoming), boolInt(e.Answered), boolInt(e.Missed),
		e.EndReason, e.EndedAt.UnixMilli(), e.Duration.Milliseconds())
	if err != nil {
		return Entry{}, fmt.Errorf("insert call: %w", err)
	}
	return e, nil
}

// Get returns the entry with the given id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, peer, incoming, answered, missed, end_reason, ended_at, duration_ms
FROM calls WHERE id = ?`, id.String())
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// List returns up to limit entries, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, peer, incoming, answered, missed, end_reason, ended_at, duration_ms
FROM calls ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountMissed returns the number of missed calls that ended at or after since.
func (s *Store) CountMissed(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM calls WHERE missed = 1 AND ended_at >= ?`, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count missed: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var id string
	var e Entry
	var incoming, answered, missed int
	var endedAtMs, durationMs int64
	if err := sc.Scan(&id, &e.Peer, &incoming, &answered, &missed, &e.EndReason, &endedAtMs, &durationMs); err != nil {
		return Entry{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, fmt.Errorf("bad call id %q: %w", id, err)
	}
	e.ID = parsed
	e.Incoming = incoming != 0
	e.Answered = answered != 0
	e.Missed = missed != 0
	e.EndedAt = time.UnixMilli(endedAtMs)
	e.Duration = time.Duration(durationMs) * time.Millisecond
	return e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
