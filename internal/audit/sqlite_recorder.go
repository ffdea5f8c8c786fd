package audit

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
)

// SQLiteRecorderConfig configures the SQLite audit recorder.
type SQLiteRecorderConfig struct {
	DataDir       string // Directory for audit.db
	RetentionDays int    // Days to keep events (default: 90, 0 = forever)
}

// SQLiteRecorder implements Recorder with persistent SQLite storage.
type SQLiteRecorder struct {
	mu            sync.RWMutex
	db            *sql.DB
	dbPath        string
	retentionDays int
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewSQLiteRecorder creates a new SQLite-backed audit recorder.
func NewSQLiteRecorder(cfg SQLiteRecorderConfig) (*SQLiteRecorder, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	auditDir := filepath.Join(cfg.DataDir, "audit")
	if err := os.MkdirAll(auditDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	dbPath := filepath.Join(auditDir, "audit.db")

	// Open database with pragmas in DSN so every pool connection is configured
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	// SQLite works best with a single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	retentionDays := cfg.RetentionDays
	if retentionDays == 0 {
		retentionDays = 90
	}

	r := &SQLiteRecorder{
		db:            db,
		dbPath:        dbPath,
		retentionDays: retentionDays,
		stopChan:      make(chan struct{}),
	}

	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	if retentionDays > 0 {
		r.wg.Add(1)
		go r.retentionWorker()
	}

	log.Info().
		Str("dbPath", dbPath).
		Int("retentionDays", retentionDays).
		Msg("SQLite audit recorder initialized")

	return r, nil
}

func (r *SQLiteRecorder) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		subject_user_id TEXT,
		details TEXT,
		success INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
	CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_events(subject_user_id) WHERE subject_user_id != '';
	`

	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Record appends an audit event and mirrors it to the structured log.
func (r *SQLiteRecorder) Record(event models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.ID == "" {
		event.ID = NewEventID(event.Timestamp)
	}
	success := 0
	if event.Success {
		success = 1
	}

	_, err := r.db.Exec(`
		INSERT INTO audit_events (id, timestamp, actor, action, subject_user_id, details, success)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Timestamp.Unix(),
		event.Actor,
		event.Action,
		event.SubjectUserID,
		event.Details,
		success,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	// Also log to zerolog for real-time visibility
	logEvent := log.With().
		Str("audit_id", event.ID).
		Str("action", event.Action).
		Str("actor", event.Actor).
		Str("subject", event.SubjectUserID).
		Logger()

	if event.Success {
		logEvent.Info().Msg("Audit event")
	} else {
		logEvent.Warn().Msg("Audit event - FAILED")
	}

	return nil
}

// Query retrieves audit events matching the filter, newest first.
func (r *SQLiteRecorder) Query(filter QueryFilter) ([]models.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query := `SELECT id, timestamp, actor, action, subject_user_id, details, success FROM audit_events WHERE 1=1`
	args := []interface{}{}

	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.SubjectUserID != "" {
		query += " AND subject_user_id = ?"
		args = append(args, filter.SubjectUserID)
	}
	if filter.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime.Unix())
	}
	if filter.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime.Unix())
	}
	if filter.Success != nil {
		success := 0
		if *filter.Success {
			success = 1
		}
		query += " AND success = ?"
		args = append(args, success)
	}

	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var (
			e       models.AuditEvent
			ts      int64
			success int
		)
		if err := rows.Scan(&e.ID, &ts, &e.Actor, &e.Action, &e.SubjectUserID, &e.Details, &success); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		e.Success = success == 1
		events = append(events, e)
	}
	return events, rows.Err()
}

// Cleanup deletes events older than the retention window. Exposed so the
// periodic audit-cleanup task can drive it on its own tick.
func (r *SQLiteRecorder) Cleanup() (int64, error) {
	if r.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -r.retentionDays).Unix()

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(`DELETE FROM audit_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Int64("pruned", n).Int("retentionDays", r.retentionDays).Msg("Pruned old audit events")
	}
	return n, nil
}

func (r *SQLiteRecorder) retentionWorker() {
	defer r.wg.Done()

	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			if _, err := r.Cleanup(); err != nil {
				log.Warn().Err(err).Msg("Audit retention pass failed")
			}
		}
	}
}

// Close stops the retention worker and closes the database.
func (r *SQLiteRecorder) Close() error {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
	return r.db.Close()
}
