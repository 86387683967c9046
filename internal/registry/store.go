package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type migration struct {
	Version     int
	Description string
	Up          string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial packages table",
		Up: `
CREATE TABLE IF NOT EXISTS packages (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    icon_path   TEXT,
    entry_url   TEXT NOT NULL,
    language    TEXT NOT NULL,
    options     INTEGER NOT NULL,
    root_path   TEXT NOT NULL,
    revision    TEXT NOT NULL,
    scanned_at  INTEGER NOT NULL
);`,
	},
}

// Store is the sqlite index of scanned packages.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the index at path and applies migrations.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put inserts or replaces a descriptor.
func (s *Store) Put(d *Descriptor) error {
	_, err := s.db.Exec(`
		INSERT INTO packages (id, name, icon_path, entry_url, language, options, root_path, revision, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			icon_path = excluded.icon_path,
			entry_url = excluded.entry_url,
			language = excluded.language,
			options = excluded.options,
			root_path = excluded.root_path,
			revision = excluded.revision,
			scanned_at = excluded.scanned_at`,
		d.ID, d.Name, d.IconPath, d.EntryURL, d.Language, uint32(d.Options), d.RootPath, d.Revision, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("put package %s: %w", d.ID, err)
	}
	return nil
}

// Delete removes a descriptor by id.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM packages WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete package %s: %w", id, err)
	}
	return nil
}

// Get returns the descriptor with id or ErrNotFound.
func (s *Store) Get(id string) (*Descriptor, error) {
	row := s.db.QueryRow(`
		SELECT id, name, icon_path, entry_url, language, options, root_path, revision
		FROM packages WHERE id = ?`, id)
	d, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get package %s: %w", id, err)
	}
	return d, nil
}

// All returns every descriptor ordered by id.
func (s *Store) All() ([]*Descriptor, error) {
	rows, err := s.db.Query(`
		SELECT id, name, icon_path, entry_url, language, options, root_path, revision
		FROM packages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var out []*Descriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDescriptor(r rowScanner) (*Descriptor, error) {
	var (
		d       Descriptor
		icon    sql.NullString
		options uint32
	)
	if err := r.Scan(&d.ID, &d.Name, &icon, &d.EntryURL, &d.Language, &options, &d.RootPath, &d.Revision); err != nil {
		return nil, err
	}
	d.IconPath = icon.String
	d.Options = Option(options)
	return &d, nil
}
