// Package journal keeps a SQLite history of data-set transfers made by the
// host tool.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Direction of a journaled operation, seen from the host.
const (
	DirectionUpload   = "upload"
	DirectionDownload = "download"
	DirectionIdentify = "identify"
)

// Status of a journaled operation.
const (
	StatusPending  = "pending"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

var ErrNotFound = errors.New("journal: entry not found")

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS transfers (
  transfer_id   TEXT PRIMARY KEY,
  direction     TEXT NOT NULL CHECK(direction IN ('upload','download','identify')),
  transport     TEXT NOT NULL,
  endpoint      TEXT NOT NULL DEFAULT '',
  size          INTEGER NOT NULL DEFAULT 0,
  hash          INTEGER NOT NULL DEFAULT 0,
  status        TEXT NOT NULL CHECK(status IN ('pending','complete','failed')) DEFAULT 'pending',
  error         TEXT NOT NULL DEFAULT '',
  started_at    INTEGER NOT NULL,
  finished_at   INTEGER
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_transfers_started_at
ON transfers (started_at DESC, transfer_id);
`,
	`
ALTER TABLE transfers ADD COLUMN die_id INTEGER NOT NULL DEFAULT 0;
`,
}

// Entry is one row of the journal.
type Entry struct {
	ID         string
	Direction  string
	Transport  string
	Endpoint   string
	DieID      uint8
	Size       int
	Hash       uint32
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store is a thin wrapper around a SQLite connection.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
	now       func() time.Time
}

// Open opens (or creates) the journal at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		closeErr = s.db.Close()
	})
	return closeErr
}

// Begin records a pending operation. An empty e.ID gets a fresh uuid; the id
// is returned either way.
func (s *Store) Begin(e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	} else if _, err := uuid.Parse(e.ID); err != nil {
		return "", fmt.Errorf("invalid transfer id %q: %w", e.ID, err)
	}
	if e.Transport == "" {
		return "", errors.New("transport is required")
	}
	if err := validateDirection(e.Direction); err != nil {
		return "", err
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = s.now()
	}

	_, err := s.db.Exec(
		`INSERT INTO transfers (
			transfer_id,
			direction,
			transport,
			endpoint,
			die_id,
			size,
			hash,
			status,
			started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Direction,
		e.Transport,
		e.Endpoint,
		e.DieID,
		e.Size,
		e.Hash,
		StatusPending,
		e.StartedAt.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("insert transfer %q: %w", e.ID, err)
	}
	return e.ID, nil
}

// Finish records the outcome of an operation. size and hash overwrite the
// values given to Begin when non-zero.
func (s *Store) Finish(id string, size int, hash uint32, opErr error) error {
	status, msg := StatusComplete, ""
	if opErr != nil {
		status, msg = StatusFailed, opErr.Error()
	}

	res, err := s.db.Exec(
		`UPDATE transfers
		SET status = ?,
			error = ?,
			size = CASE WHEN ? > 0 THEN ? ELSE size END,
			hash = CASE WHEN ? > 0 THEN ? ELSE hash END,
			finished_at = ?
		WHERE transfer_id = ?`,
		status,
		msg,
		size, size,
		hash, hash,
		s.now().UnixMilli(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update transfer %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transfer %q rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// SetDieID records which die answered the operation.
func (s *Store) SetDieID(id string, die uint8) error {
	if _, err := s.db.Exec(`UPDATE transfers SET die_id = ? WHERE transfer_id = ?`, die, id); err != nil {
		return fmt.Errorf("update transfer %q die: %w", id, err)
	}
	return nil
}

// Get returns one entry.
func (s *Store) Get(id string) (Entry, error) {
	row := s.db.QueryRow(selectEntry+` WHERE transfer_id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// List returns the most recent entries first. limit <= 0 returns all.
func (s *Store) List(limit int) ([]Entry, error) {
	q := selectEntry + ` ORDER BY started_at DESC, transfer_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return out, nil
}

const selectEntry = `SELECT transfer_id, direction, transport, endpoint, die_id, size, hash, status, error, started_at, finished_at FROM transfers`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(r scanner) (Entry, error) {
	var (
		e        Entry
		started  int64
		finished sql.NullInt64
	)
	if err := r.Scan(&e.ID, &e.Direction, &e.Transport, &e.Endpoint, &e.DieID, &e.Size, &e.Hash, &e.Status, &e.Error, &started, &finished); err != nil {
		return Entry{}, err
	}
	e.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		e.FinishedAt = time.UnixMilli(finished.Int64)
	}
	return e, nil
}

func validateDirection(d string) error {
	switch d {
	case DirectionUpload, DirectionDownload, DirectionIdentify:
		return nil
	}
	return fmt.Errorf("invalid direction %q", d)
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}

func (s *Store) enableWALMode() error {
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", mode)
	}
	return nil
}
