package instance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		bundle_path TEXT UNIQUE NOT NULL,
		token BLOB NOT NULL,
		linked INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_run_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS _busy (
		name TEXT PRIMARY KEY,
		pid INTEGER NOT NULL DEFAULT 0,
		acquired_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_instances_name ON instances(name);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return s.migrate()
}

// migrate brings databases created by earlier versions up to the
// current schema.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`SELECT last_run_at FROM instances LIMIT 0`); err != nil {
		if _, err := s.db.Exec(`ALTER TABLE instances ADD COLUMN last_run_at DATETIME`); err != nil {
			return fmt.Errorf("failed to add last_run_at: %w", err)
		}
	}
	// Lock rows without an owner can never be reclaimed; start over.
	if _, err := s.db.Exec(`SELECT pid FROM _busy LIMIT 0`); err != nil {
		if _, err := s.db.Exec(`DROP TABLE _busy`); err != nil {
			return fmt.Errorf("failed to drop lock table: %w", err)
		}
		return s.createTables()
	}
	return nil
}

// Create inserts r, assigning its ID and timestamps.
func (s *SQLiteStore) Create(ctx context.Context, r *Record) error {
	now := time.Now().UTC()
	r.ID = ulid.Make().String()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instances (id, name, bundle_path, token, linked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.BundlePath, []byte(r.Token), r.Linked, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create instance record: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, name, bundle_path, token, linked, created_at, updated_at, last_run_at FROM instances`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var r Record
	var token []byte
	var lastRun sql.NullTime
	if err := row.Scan(&r.ID, &r.Name, &r.BundlePath, &token, &r.Linked, &r.CreatedAt, &r.UpdatedAt, &lastRun); err != nil {
		return nil, err
	}
	r.Token = token
	if lastRun.Valid {
		r.LastRunAt = lastRun.Time
	}
	return &r, nil
}

func (s *SQLiteStore) getOne(ctx context.Context, where string, arg any) (*Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE `+where+` = ?`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return r, nil
}

// Get retrieves a record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	return s.getOne(ctx, "id", id)
}

// FindByPath retrieves the record registered for a bundle path.
func (s *SQLiteStore) FindByPath(ctx context.Context, path string) (*Record, error) {
	return s.getOne(ctx, "bundle_path", path)
}

// List returns every record, oldest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Update overwrites the mutable fields of r.
func (s *SQLiteStore) Update(ctx context.Context, r *Record) error {
	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET name = ?, bundle_path = ?, token = ?, linked = ?, updated_at = ?, last_run_at = ? WHERE id = ?`,
		r.Name, r.BundlePath, []byte(r.Token), r.Linked, r.UpdatedAt, nullTime(r.LastRunAt), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	return checkAffected(res, r.ID)
}

// Delete removes the record with id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	return checkAffected(res, id)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// TryLock attempts to acquire a named lock for this process, returns true
// if successful. A lock whose owning process has exited is taken over.
func (s *SQLiteStore) TryLock(ctx context.Context, name string) (bool, error) {
	pid := os.Getpid()
	for attempt := 0; attempt < 2; attempt++ {
		now := time.Now().UTC()
		result, err := s.db.ExecContext(ctx,
			`INSERT INTO _busy(name, pid, acquired_at) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`,
			name, pid, now)
		if err != nil {
			return false, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok, err := affected(result); err != nil || ok {
			return ok, err
		}

		holder, err := s.LockHolder(ctx, name)
		if errors.Is(err, ErrNotFound) {
			// Released between the insert and the read.
			continue
		}
		if err != nil {
			return false, err
		}
		if holder.Alive() {
			return false, nil
		}

		// Only one contender can swap out the dead owner.
		result, err = s.db.ExecContext(ctx,
			`UPDATE _busy SET pid = ?, acquired_at = ? WHERE name = ? AND pid = ?`,
			pid, now, name, holder.PID)
		if err != nil {
			return false, fmt.Errorf("failed to take over lock: %w", err)
		}
		return affected(result)
	}
	return false, nil
}

// LockHolder reports who holds a named lock.
func (s *SQLiteStore) LockHolder(ctx context.Context, name string) (Lock, error) {
	l := Lock{Name: name}
	err := s.db.QueryRowContext(ctx, `SELECT pid, acquired_at FROM _busy WHERE name = ?`, name).Scan(&l.PID, &l.AcquiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Lock{}, fmt.Errorf("%w: lock %s", ErrNotFound, name)
	}
	if err != nil {
		return Lock{}, fmt.Errorf("failed to read lock: %w", err)
	}
	return l, nil
}

// ReleaseLock releases a named lock
func (s *SQLiteStore) ReleaseLock(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM _busy WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check lock result: %w", err)
	}
	return n > 0, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
