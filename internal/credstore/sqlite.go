package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"librarydesk/pkg/domain"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS credentials (
	profile            TEXT PRIMARY KEY,
	access_token       TEXT NOT NULL,
	refresh_token      TEXT NOT NULL,
	access_expires_at  TEXT NOT NULL DEFAULT '',
	refresh_expires_at TEXT NOT NULL DEFAULT '',
	updated_at         TEXT NOT NULL
)`

// SQLiteStore persists credentials per profile in a local SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	profile string
}

// NewSQLiteStore opens (creating if needed) the database at path. An empty
// path resolves to $XDG_CONFIG_HOME/librarydesk/credentials.db.
func NewSQLiteStore(path, profile string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		path = filepath.Join(dir, "librarydesk", "credentials.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create credentials dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db, profile: profile}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the stored pair.
func (s *SQLiteStore) Get() (domain.Credentials, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var creds domain.Credentials
	var accessExp, refreshExp string
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, access_expires_at, refresh_expires_at FROM credentials WHERE profile = ?`,
		s.profile,
	).Scan(&creds.AccessToken, &creds.RefreshToken, &accessExp, &refreshExp)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Credentials{}, false, nil
	}
	if err != nil {
		return domain.Credentials{}, false, fmt.Errorf("read credentials: %w", err)
	}
	if !creds.Complete() {
		return domain.Credentials{}, false, nil
	}
	if creds.AccessExpiresAt, err = parseStoredTime(accessExp); err != nil {
		return domain.Credentials{}, false, err
	}
	if creds.RefreshExpiresAt, err = parseStoredTime(refreshExp); err != nil {
		return domain.Credentials{}, false, err
	}
	return creds, true, nil
}

// Set upserts the profile's pair.
func (s *SQLiteStore) Set(c domain.Credentials) error {
	if err := validate(c); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (profile, access_token, refresh_token, access_expires_at, refresh_expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			access_expires_at = excluded.access_expires_at,
			refresh_expires_at = excluded.refresh_expires_at,
			updated_at = excluded.updated_at`,
		s.profile, c.AccessToken, c.RefreshToken,
		formatStoredTime(c.AccessExpiresAt), formatStoredTime(c.RefreshExpiresAt),
		formatStoredTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Clear deletes the profile's row.
func (s *SQLiteStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE profile = ?`, s.profile); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
