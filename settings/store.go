package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hazyhaar/webclip/dbopen"
	"github.com/hazyhaar/webclip/horosafe"
	"github.com/hazyhaar/webclip/notesvc"
)

// Keys of the synced storage the popup reads and writes.
const (
	KeyServerURL   = "serverUrl"
	KeyAuthToken   = "authToken"
	KeyDesktopPort = "desktopPort"
	KeyLanguage    = "language"
	KeyPatterns    = "autoClipPatterns"
)

// Schema is the store's migration history. Append only.
var Schema = []string{
	`CREATE TABLE settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE settings_rev (
		id  INTEGER PRIMARY KEY CHECK (id = 1),
		rev INTEGER NOT NULL
	);
	INSERT INTO settings_rev (id, rev) VALUES (1, 0);
	CREATE TABLE captures (
		id         TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		phase      TEXT NOT NULL,
		page_url   TEXT NOT NULL DEFAULT '',
		note_id    TEXT NOT NULL DEFAULT '',
		error      TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX captures_started ON captures (started_at);`,
}

// ErrNotSet means the key has no stored value.
var ErrNotSet = errors.New("settings: not set")

// Store persists settings and the capture journal. Safe for concurrent use.
type Store struct {
	db       *sql.DB
	defaults ServiceConfig
	logger   *slog.Logger
	now      func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithDefaults sets the values returned when the popup never stored one.
func WithDefaults(s ServiceConfig) StoreOption {
	return func(st *Store) { st.defaults = s }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(st *Store) { st.logger = l }
}

// WithClock replaces time.Now for journal timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(st *Store) { st.now = now }
}

// Open opens (and migrates) the store at path.
func Open(path string, opts ...StoreOption) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithMigrations(Schema...))
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	return NewStore(db, opts...), nil
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the raw value of key, or ErrNotSet.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotSet
	}
	if err != nil {
		return "", fmt.Errorf("settings: get %s: %w", key, err)
	}
	return v, nil
}

// Set stores the raw value of key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.write(ctx, map[string]*string{key: &value})
}

// Delete removes keys. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	m := make(map[string]*string, len(keys))
	for _, k := range keys {
		m[k] = nil
	}
	return s.write(ctx, m)
}

// All returns every stored key/value pair except the auth token.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings WHERE key <> ?`, KeyAuthToken)
	if err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("settings: list: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Revision returns a counter bumped by every write.
func (s *Store) Revision(ctx context.Context) (int64, error) {
	var rev int64
	if err := s.db.QueryRowContext(ctx, `SELECT rev FROM settings_rev WHERE id = 1`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("settings: revision: %w", err)
	}
	return rev, nil
}

// write applies all changes (nil deletes) in one transaction.
func (s *Store) write(ctx context.Context, changes map[string]*string) error {
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		for k, v := range changes {
			var err error
			if v == nil {
				_, err = tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, k)
			} else {
				_, err = tx.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)
					ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, *v)
			}
			if err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `UPDATE settings_rev SET rev = rev + 1 WHERE id = 1`)
		return err
	})
	if err != nil {
		return fmt.Errorf("settings: write: %w", err)
	}
	return nil
}

var _ notesvc.Settings = (*Store)(nil)

// ServerURL returns the stored server URL, falling back to the configured one.
func (s *Store) ServerURL(ctx context.Context) (string, error) {
	v, err := s.Get(ctx, KeyServerURL)
	if errors.Is(err, ErrNotSet) {
		return s.defaults.ServerURL, nil
	}
	return v, err
}

// AuthToken returns the stored token or "".
func (s *Store) AuthToken(ctx context.Context) (string, error) {
	v, err := s.Get(ctx, KeyAuthToken)
	if errors.Is(err, ErrNotSet) {
		return "", nil
	}
	return v, err
}

// DesktopPort returns the stored desktop port, the configured one, or
// notesvc.DefaultDesktopPort.
func (s *Store) DesktopPort(ctx context.Context) (int, error) {
	v, err := s.Get(ctx, KeyDesktopPort)
	switch {
	case errors.Is(err, ErrNotSet):
		if s.defaults.DesktopPort > 0 {
			return s.defaults.DesktopPort, nil
		}
		return notesvc.DefaultDesktopPort, nil
	case err != nil:
		return 0, err
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		s.logger.Warn("settings: bad desktop port, using default", "value", v)
		return notesvc.DefaultDesktopPort, nil
	}
	return port, nil
}

// SetServer stores a server connection after a successful login.
func (s *Store) SetServer(ctx context.Context, serverURL, token string) error {
	serverURL, err := horosafe.ValidateServiceURL(serverURL)
	if err != nil {
		return fmt.Errorf("settings: server url: %w", err)
	}
	return s.write(ctx, map[string]*string{KeyServerURL: &serverURL, KeyAuthToken: &token})
}

// ClearServer forgets the server connection.
func (s *Store) ClearServer(ctx context.Context) error {
	return s.Delete(ctx, KeyServerURL, KeyAuthToken)
}

// SetDesktopPort stores the desktop app's port.
func (s *Store) SetDesktopPort(ctx context.Context, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("settings: invalid desktop port %d", port)
	}
	return s.Set(ctx, KeyDesktopPort, strconv.Itoa(port))
}

// Language returns the stored UI language or "".
func (s *Store) Language(ctx context.Context) (string, error) {
	v, err := s.Get(ctx, KeyLanguage)
	if errors.Is(err, ErrNotSet) {
		return "", nil
	}
	return v, err
}

// Patterns returns the auto-clip URL patterns.
func (s *Store) Patterns(ctx context.Context) ([]string, error) {
	v, err := s.Get(ctx, KeyPatterns)
	if errors.Is(err, ErrNotSet) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil, fmt.Errorf("settings: patterns: %w", err)
	}
	return out, nil
}

// SetPatterns replaces the auto-clip URL patterns.
func (s *Store) SetPatterns(ctx context.Context, patterns []string) error {
	b, err := json.Marshal(patterns)
	if err != nil {
		return fmt.Errorf("settings: patterns: %w", err)
	}
	return s.Set(ctx, KeyPatterns, string(b))
}
