package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// Store wraps one zone's SQLite database.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	events *broker
	closed atomic.Bool
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	migrations []Migration
}

// WithLogger sets the logger used by the store and its migrations.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMigrations replaces the built-in migration chain.
func WithMigrations(m []Migration) Option {
	return func(o *options) { o.migrations = m }
}

// Open opens (or creates) the SQLite database at path and migrates it to
// CurrentGeneration before returning. Pass ":memory:" for an in-memory
// database (used by tests). A migration failure closes the database and is
// returned; the file is left at the last fully applied generation.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	o := options{logger: slog.Default(), migrations: defaultMigrations}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		var err error
		if dsn, err = fileDSN(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting journal mode: %w", err)
		}
	}

	logger := o.logger.With("db", filepath.Base(path))
	if err := runMigrations(ctx, db, o.migrations, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{
		db:     db,
		path:   path,
		logger: logger,
		events: newBroker(),
	}, nil
}

// fileDSN turns path into a SQLite URI. The path is escaped so '#', '?' and
// '%' in directory names reach SQLite unchanged. Taking the write lock at
// BEGIN keeps two processes from starting the same migration hop.
func fileDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving database path: %w", err)
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(abs),
		RawQuery: "_txlock=immediate",
	}
	return u.String(), nil
}

// Close closes the underlying database connection. Live subscriptions end
// with ErrClosed on their next reload.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.db.Close()
	s.events.notify()
	return err
}

// DB exposes the underlying handle for tests and diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

// Path is the file the store was opened from.
func (s *Store) Path() string { return s.path }

// Generation reports the schema generation recorded in the file.
func (s *Store) Generation(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return readGeneration(ctx, s.db)
}

// Insert writes n and returns its id. A zero ID lets SQLite assign one; a
// non-zero ID replaces any row with that id. An empty Timestamp takes the
// column default (current UTC).
func (s *Store) Insert(ctx context.Context, n Note) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	cols := colNoteTitle + ", " + colNoteBody
	marks := "?, ?"
	args := []any{n.Title, n.Body}
	if n.Timestamp != "" {
		cols += ", " + colTimestamp
		marks += ", ?"
		args = append(args, n.Timestamp)
	}
	if n.ID != 0 {
		cols = colID + ", " + cols
		marks = "?, " + marks
		args = append([]any{n.ID}, args...)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO "+tableName+" ("+cols+") VALUES ("+marks+")", args...)
	if err != nil {
		return 0, fmt.Errorf("inserting note: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted id: %w", err)
	}
	s.events.notify()
	return id, nil
}

// Get returns the note with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (Note, error) {
	if s.closed.Load() {
		return Note{}, ErrClosed
	}

	var n Note
	err := s.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM "+tableName+" WHERE "+colID+" = ? LIMIT 1", id,
	).Scan(&n.ID, &n.Title, &n.Body, &n.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, ErrNotFound
	}
	if err != nil {
		return Note{}, fmt.Errorf("querying note %d: %w", id, err)
	}
	return n, nil
}

// List returns the notes selected and ordered by q. No match yields an empty
// (non-nil) slice.
func (s *Store) List(ctx context.Context, q Query) ([]Note, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	stmt, args, err := q.build(tableName)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer rows.Close()

	notes := []Note{}
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Update overwrites the row matching n.ID. It reports whether a row was
// affected; a missing id is not an error.
func (s *Store) Update(ctx context.Context, n Note) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE "+tableName+" SET "+colNoteTitle+" = ?, "+colNoteBody+" = ?, "+colTimestamp+" = ? WHERE "+colID+" = ?",
		n.Title, n.Body, n.Timestamp, n.ID,
	)
	if err != nil {
		return false, fmt.Errorf("updating note %d: %w", n.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking updated rows: %w", err)
	}
	if affected > 0 {
		s.events.notify()
	}
	return affected > 0, nil
}

// Delete removes the row with id. It reports whether a row was affected; a
// missing id is not an error.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM "+tableName+" WHERE "+colID+" = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting note %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking deleted rows: %w", err)
	}
	if affected > 0 {
		s.events.notify()
	}
	return affected > 0, nil
}

// Count returns the number of notes.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tableName).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting notes: %w", err)
	}
	return n, nil
}

// Watch subscribes to the result of q. The subscription ends when ctx is
// cancelled, Close is called, or the store is closed.
func (s *Store) Watch(ctx context.Context, q Query) *Subscription[[]Note] {
	return subscribe(ctx, s.events, s.logger, func(ctx context.Context) ([]Note, error) {
		return s.List(ctx, q)
	})
}

// WatchNote subscribes to a single note. A nil result means the note does
// not exist at that point.
func (s *Store) WatchNote(ctx context.Context, id int64) *Subscription[*Note] {
	return subscribe(ctx, s.events, s.logger, func(ctx context.Context) (*Note, error) {
		n, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &n, nil
	})
}
