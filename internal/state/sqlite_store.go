package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"healthwatch/internal/domain"
)

// SQLiteStore persists alerts in a local SQLite database.
// Params: database handle opened via the modernc driver.
// Returns: durable store implementation for single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite alert database.
// Params: DSN or file path; blank falls back to a local file.
// Returns: initialized store or open/migration error.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:healthwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	store := &SQLiteStore{db: db}
	if err := store.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// init applies the alert schema.
// Params: context for schema statements.
// Returns: first DDL error.
func (s *SQLiteStore) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			dedupe_key TEXT NOT NULL,
			status TEXT NOT NULL,
			village TEXT,
			created_at TEXT NOT NULL,
			revision INTEGER NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_active_dedupe
			ON alerts(dedupe_key) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply alert schema: %w", err)
		}
	}
	return nil
}

// Put writes a new alert snapshot.
// Params: context and alert payload.
// Returns: first revision or write error.
func (s *SQLiteStore) Put(ctx context.Context, alert domain.Alert) (uint64, error) {
	payload, err := json.Marshal(alert)
	if err != nil {
		return 0, fmt.Errorf("marshal alert %q: %w", alert.ID, err)
	}
	const rev = uint64(1)
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO alerts (id, dedupe_key, status, village, created_at, revision, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.DedupeKey, string(alert.Status), alert.Village,
		alert.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"), rev, string(payload))
	if err != nil {
		return 0, fmt.Errorf("insert alert %q: %w", alert.ID, err)
	}
	return rev, nil
}

// Get returns one alert snapshot and revision.
// Params: context and alert id.
// Returns: stored alert, revision, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, alertID string) (domain.Alert, uint64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload, revision FROM alerts WHERE id = ?`, alertID)
	return scanAlert(row)
}

// Update replaces an alert snapshot using expected revision CAS.
// Params: context, alert id, expected revision, and replacement payload.
// Returns: new revision, ErrNotFound, or ErrConflict.
func (s *SQLiteStore) Update(ctx context.Context, alertID string, expectedRevision uint64, alert domain.Alert) (uint64, error) {
	payload, err := json.Marshal(alert)
	if err != nil {
		return 0, fmt.Errorf("marshal alert %q: %w", alertID, err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET dedupe_key = ?, status = ?, village = ?, revision = revision + 1, payload = ?
			WHERE id = ? AND revision = ?`,
		alert.DedupeKey, string(alert.Status), alert.Village, string(payload), alertID, expectedRevision)
	if err != nil {
		return 0, fmt.Errorf("update alert %q: %w", alertID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update alert %q: %w", alertID, err)
	}
	if affected == 1 {
		return expectedRevision + 1, nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM alerts WHERE id = ?`, alertID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check alert %q: %w", alertID, err)
	}
	if exists == 0 {
		return 0, ErrNotFound
	}
	return 0, ErrConflict
}

// FindActive returns the active alert indexed under the dedupe key.
// Params: context and dedupe key.
// Returns: alert, revision, or ErrNotFound.
func (s *SQLiteStore) FindActive(ctx context.Context, dedupeKey string) (domain.Alert, uint64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload, revision FROM alerts WHERE dedupe_key = ? AND status = 'active'`, dedupeKey)
	return scanAlert(row)
}

// ListOpen lists unresolved alerts in creation order.
// Params: context.
// Returns: active and acknowledged alerts or query error.
func (s *SQLiteStore) ListOpen(ctx context.Context) ([]domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM alerts WHERE status != 'resolved' ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list open alerts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Alert, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		var alert domain.Alert
		if err := json.Unmarshal([]byte(payload), &alert); err != nil {
			return nil, fmt.Errorf("decode alert payload: %w", err)
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

// Close closes the database handle.
// Params: none.
// Returns: close error.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanAlert decodes one payload/revision row.
// Params: single-row query result.
// Returns: alert, revision, or ErrNotFound.
func scanAlert(row *sql.Row) (domain.Alert, uint64, error) {
	var payload string
	var revision uint64
	if err := row.Scan(&payload, &revision); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Alert{}, 0, ErrNotFound
		}
		return domain.Alert{}, 0, fmt.Errorf("scan alert: %w", err)
	}
	var alert domain.Alert
	if err := json.Unmarshal([]byte(payload), &alert); err != nil {
		return domain.Alert{}, 0, fmt.Errorf("decode alert payload: %w", err)
	}
	return alert, revision, nil
}
