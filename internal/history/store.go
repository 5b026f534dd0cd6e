// Package history persists a record of finished recordings in SQLite so the
// CLI can show the last artifact and past sessions.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Last when no recording has been stored.
var ErrNotFound = errors.New("no recordings")

// Entry is one finished recording.
type Entry struct {
	ID            string
	BaseName      string
	ChunkIndex    int
	StartedAt     time.Time
	StoppedAt     time.Time
	Active        time.Duration
	Microphone    string
	ArtifactPath  string
	Muxed         bool
	FramesWritten uint64
	FramesDropped uint64
	Abandoned     bool
	// Failure holds the most severe stage failure, empty on a clean stop.
	Failure string
}

// Store manages the recordings table.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the history database at path and applies
// migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts e, assigning an ID when it has none, and returns the stored entry.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if s == nil || s.db == nil {
		return Entry{}, errors.New("history store not open")
	}
	if strings.TrimSpace(e.ID) == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (
            id, base_name, chunk_index, started_at, stopped_at, active_ms, microphone,
            artifact_path, muxed, frames_written, frames_dropped, abandoned, failure
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.BaseName,
		e.ChunkIndex,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.StoppedAt.UTC().Format(time.RFC3339Nano),
		e.Active.Milliseconds(),
		e.Microphone,
		e.ArtifactPath,
		boolToInt(e.Muxed),
		int64(e.FramesWritten),
		int64(e.FramesDropped),
		boolToInt(e.Abandoned),
		e.Failure,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert recording: %w", err)
	}
	return e, nil
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history store not open")
	}
	query := `SELECT id, base_name, chunk_index, started_at, stopped_at, active_ms, microphone,
        artifact_path, muxed, frames_written, frames_dropped, abandoned, failure
        FROM recordings ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recordings: %w", err)
	}
	return entries, nil
}

// Last returns the newest entry or ErrNotFound.
func (s *Store) Last(ctx context.Context) (Entry, error) {
	entries, err := s.List(ctx, 1)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, ErrNotFound
	}
	return entries[0], nil
}

// MaxChunkIndex returns the highest chunk index stored for baseName, or -1
// when no recording used that name.
func (s *Store) MaxChunkIndex(ctx context.Context, baseName string) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("history store not open")
	}
	var idx sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(chunk_index) FROM recordings WHERE base_name = ?", baseName).Scan(&idx); err != nil {
		return 0, fmt.Errorf("query chunk index: %w", err)
	}
	if !idx.Valid {
		return -1, nil
	}
	return int(idx.Int64), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                            Entry
		started, stopped             string
		activeMS                     int64
		muxed, abandoned             int
		framesWritten, framesDropped int64
	)
	if err := row.Scan(&e.ID, &e.BaseName, &e.ChunkIndex, &started, &stopped, &activeMS, &e.Microphone,
		&e.ArtifactPath, &muxed, &framesWritten, &framesDropped, &abandoned, &e.Failure); err != nil {
		return Entry{}, fmt.Errorf("scan recording: %w", err)
	}
	e.StartedAt = parseTime(started)
	e.StoppedAt = parseTime(stopped)
	e.Active = time.Duration(activeMS) * time.Millisecond
	e.Muxed = muxed != 0
	e.Abandoned = abandoned != 0
	e.FramesWritten = uint64(framesWritten)
	e.FramesDropped = uint64(framesDropped)
	return e, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
