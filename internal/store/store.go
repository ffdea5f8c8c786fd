// Package store persists subscriptions, usage counters, tier limits, and
// scheduled notifications in SQLite. Every state mutation is a single
// conditional statement so concurrent tasks converging on the same row
// cannot interleave to an inconsistent state.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
)

// Store is a SQLite-backed persistence layer for the governance engine.
type Store struct {
	db     *sql.DB
	dbPath string
}

// New opens (or creates) the governance database under dataDir.
func New(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "governance.db")

	// Open database with pragmas in DSN so every pool connection is configured
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open governance database: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, dbPath: dbPath}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := s.SeedTiers(context.Background(), models.DefaultTiers()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed tier limits: %w", err)
	}

	log.Info().Str("dbPath", dbPath).Msg("Governance store initialized")

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		user_id TEXT PRIMARY KEY,
		external_account_id TEXT NOT NULL,
		tier_id TEXT NOT NULL,
		expiration_at INTEGER NOT NULL,
		state TEXT NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'synced',
		disabled_reason TEXT,
		grace_ends_at INTEGER,
		last_sync_at INTEGER,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subs_expiration ON subscriptions(expiration_at, state);
	CREATE INDEX IF NOT EXISTS idx_subs_sync ON subscriptions(sync_status) WHERE sync_status != 'synced';

	CREATE TABLE IF NOT EXISTS usage_counters (
		user_id TEXT PRIMARY KEY,
		storage_bytes INTEGER NOT NULL DEFAULT 0,
		active_streams INTEGER NOT NULL DEFAULT 0,
		concurrent_sessions INTEGER NOT NULL DEFAULT 0,
		api_calls_in_window INTEGER NOT NULL DEFAULT 0,
		window_started_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS usage_history (
		user_id TEXT NOT NULL,
		metric TEXT NOT NULL,
		delta INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_history_user ON usage_history(user_id, recorded_at);

	CREATE TABLE IF NOT EXISTS tier_limits (
		tier_id TEXT PRIMARY KEY,
		storage_cap INTEGER NOT NULL,
		stream_cap INTEGER NOT NULL,
		concurrent_session_cap INTEGER NOT NULL,
		api_call_cap INTEGER NOT NULL,
		window_duration_secs INTEGER NOT NULL,
		grace_duration_secs INTEGER NOT NULL,
		throttle_delay_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scheduled_notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		due_at INTEGER NOT NULL,
		payload TEXT,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		sent_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_due ON scheduled_notifications(status, due_at);
	CREATE INDEX IF NOT EXISTS idx_notifications_dedup ON scheduled_notifications(user_id, kind, status, sent_at);

	CREATE TABLE IF NOT EXISTS notification_prefs (
		user_id TEXT PRIMARY KEY,
		channel TEXT NOT NULL DEFAULT 'email',
		recipient TEXT NOT NULL DEFAULT '',
		quiet_enabled INTEGER NOT NULL DEFAULT 0,
		quiet_start TEXT NOT NULL DEFAULT '',
		quiet_end TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT 'UTC'
	);

	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (1, ?)`,
		time.Now().Unix())
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullableUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
