// Package state manages the SQLite database that tracks sync metadata between
// the source calendar and the field-service backend: the event→job mapping
// table, the generic key-value cache, and the singleton rows holding the sync
// token, refresh token, and watch registration.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS job_mappings (
    event_id  TEXT PRIMARY KEY,
    job_id    TEXT NOT NULL,
    synced_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS kv (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Fixed keys for singleton rows in the kv table. Exactly one row each.
const (
	keySyncToken    = "sync_token"
	keyRefreshToken = "refresh_token"
	keyWatchState   = "watch_state"

	// dirCachePrefix namespaces directory-resolution cache entries so they
	// can be cleared without touching the singletons.
	dirCachePrefix = "dir/"
)

// WatchState describes the active push subscription on the source calendar.
// Its lifecycle is independent from the sync token: expiring and renewing the
// watch never resets the token.
type WatchState struct {
	ChannelID  string    `json:"channel_id"`
	ResourceID string    `json:"resource_id"`
	Expiration time.Time `json:"expiration"`
}

// Store is the SQLite-backed state repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the state database:
// ~/.local/share/fieldrelay/state.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "fieldrelay", "state.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// --- mapping table -----------------------------------------------------------

// GetMapping returns the downstream job id mapped to the given event, or
// ("", nil) if no mapping exists. The mapping is the sole source of truth for
// "does a job already exist for this event".
func (s *Store) GetMapping(ctx context.Context, eventID string) (string, error) {
	var jobID string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id FROM job_mappings WHERE event_id = ?`, eventID,
	).Scan(&jobID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying mapping for event %q: %w", eventID, err)
	}
	return jobID, nil
}

// PutMapping inserts or replaces the mapping for eventID. At most one mapping
// exists per event id.
func (s *Store) PutMapping(ctx context.Context, eventID, jobID string) error {
	const q = `
		INSERT INTO job_mappings (event_id, job_id, synced_at)
		VALUES (?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
		    job_id    = excluded.job_id,
		    synced_at = excluded.synced_at`
	_, err := s.db.ExecContext(ctx, q, eventID, jobID, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("upserting mapping %q→%q: %w", eventID, jobID, err)
	}
	return nil
}

// DeleteMapping removes the mapping for eventID. Deleting a non-existent
// mapping is not an error.
func (s *Store) DeleteMapping(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM job_mappings WHERE event_id = ?`, eventID,
	); err != nil {
		return fmt.Errorf("deleting mapping for event %q: %w", eventID, err)
	}
	return nil
}

// MappingCount returns the number of tracked event→job mappings.
// Used by the status subcommand.
func (s *Store) MappingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_mappings`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting mappings: %w", err)
	}
	return count, nil
}

// --- generic kv --------------------------------------------------------------

// Get returns the value stored under key, or ("", nil) if the key is absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying kv %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key, replacing any existing value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("setting kv %q: %w", key, err)
	}
	return nil
}

// Delete removes key from the kv table. Absent keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting kv %q: %w", key, err)
	}
	return nil
}

// --- directory cache ---------------------------------------------------------

// GetCachedDirectoryID returns the cached downstream id for a directory
// lookup, or ("", nil) on a cache miss. Entries never expire; they are
// replaced only by explicit overwrite or [Store.ClearDirectoryCache].
func (s *Store) GetCachedDirectoryID(ctx context.Context, kind, lookup string) (string, error) {
	return s.Get(ctx, dirCacheKey(kind, lookup))
}

// CacheDirectoryID stores a resolved downstream id for a directory lookup.
func (s *Store) CacheDirectoryID(ctx context.Context, kind, lookup, id string) error {
	return s.Set(ctx, dirCacheKey(kind, lookup), id)
}

// ClearDirectoryCache drops every cached directory entry. The singletons and
// the mapping table are untouched.
func (s *Store) ClearDirectoryCache(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key LIKE ?`, dirCachePrefix+"%",
	)
	if err != nil {
		return 0, fmt.Errorf("clearing directory cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func dirCacheKey(kind, lookup string) string {
	return dirCachePrefix + kind + "/" + lookup
}

// --- singleton rows ----------------------------------------------------------

// GetSyncToken returns the stored continuation token, or ("", nil) when no
// token has been seeded yet.
func (s *Store) GetSyncToken(ctx context.Context) (string, error) {
	return s.Get(ctx, keySyncToken)
}

// SaveSyncToken atomically replaces the stored continuation token.
func (s *Store) SaveSyncToken(ctx context.Context, token string) error {
	return s.Set(ctx, keySyncToken, token)
}

// GetRefreshToken returns the stored OAuth refresh token, or ("", nil) when
// the authorization flow has not run yet.
func (s *Store) GetRefreshToken(ctx context.Context) (string, error) {
	return s.Get(ctx, keyRefreshToken)
}

// SaveRefreshToken replaces the stored OAuth refresh token.
func (s *Store) SaveRefreshToken(ctx context.Context, token string) error {
	return s.Set(ctx, keyRefreshToken, token)
}

// DeleteRefreshToken clears the stored credential. Used by the auth-reset
// endpoint.
func (s *Store) DeleteRefreshToken(ctx context.Context) error {
	return s.Delete(ctx, keyRefreshToken)
}

// GetWatchState returns the active push-subscription registration, or
// (nil, nil) when no watch is registered.
func (s *Store) GetWatchState(ctx context.Context) (*WatchState, error) {
	raw, err := s.Get(ctx, keyWatchState)
	if err != nil || raw == "" {
		return nil, err
	}
	var ws WatchState
	if err := json.Unmarshal([]byte(raw), &ws); err != nil {
		return nil, fmt.Errorf("parsing watch state: %w", err)
	}
	return &ws, nil
}

// SaveWatchState replaces the stored push-subscription registration.
func (s *Store) SaveWatchState(ctx context.Context, ws *WatchState) error {
	raw, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("encoding watch state: %w", err)
	}
	return s.Set(ctx, keyWatchState, string(raw))
}

// ClearWatchState removes the stored push-subscription registration.
func (s *Store) ClearWatchState(ctx context.Context) error {
	return s.Delete(ctx, keyWatchState)
}

// --- helpers -----------------------------------------------------------------

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
