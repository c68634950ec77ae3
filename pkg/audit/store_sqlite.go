package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voriongit/vorion/core/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable audit store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and runs its migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_records (
        id TEXT PRIMARY KEY,
        tenant_id TEXT NOT NULL,
        event_type TEXT NOT NULL,
        severity TEXT NOT NULL,
        outcome TEXT NOT NULL,
        actor TEXT,
        target TEXT,
        action TEXT,
        reason TEXT,
        before_state JSON,
        after_state JSON,
        metadata JSON,
        sequence_number INTEGER NOT NULL,
        previous_hash TEXT NOT NULL,
        record_hash TEXT NOT NULL,
        event_time DATETIME,
        recorded_at DATETIME,
        UNIQUE (tenant_id, sequence_number)
    );
    CREATE INDEX IF NOT EXISTS idx_audit_tenant_recorded
        ON audit_records (tenant_id, recorded_at DESC);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const auditColumns = `id, tenant_id, event_type, severity, outcome, actor, target, action, reason,
        before_state, after_state, metadata, sequence_number, previous_hash, record_hash, event_time, recorded_at`

// PersistBatch writes the batch inside one transaction.
func (s *SQLiteStore) PersistBatch(ctx context.Context, records []*contracts.AuditRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO audit_records (` + auditColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, rec := range records {
		metaJSON, _ := json.Marshal(rec.Metadata)
		_, err := tx.ExecContext(ctx, query,
			rec.ID, rec.TenantID, string(rec.EventType), string(rec.Severity), string(rec.Outcome),
			rec.Actor, rec.Target, rec.Action, rec.Reason,
			string(rec.BeforeState), string(rec.AfterState), string(metaJSON),
			rec.SequenceNumber, rec.PreviousHash, rec.RecordHash,
			rec.EventTime.UTC().Format(time.RFC3339Nano),
			rec.RecordedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("audit: insert record %s: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit batch: %w", err)
	}
	return nil
}

// Query filters and pages, newest-first. The limit is capped.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]*contracts.AuditRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	query := `SELECT ` + auditColumns + ` FROM audit_records WHERE 1=1`
	var args []any
	if q.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, q.TenantID)
	}
	if q.IntentID != "" {
		query += " AND target = ?"
		args = append(args, q.IntentID)
	}
	if q.Action != "" {
		query += " AND action = ?"
		args = append(args, q.Action)
	}
	if q.From != nil {
		query += " AND event_time >= ?"
		args = append(args, q.From.UTC().Format(time.RFC3339Nano))
	}
	if q.To != nil {
		query += " AND event_time <= ?"
		args = append(args, q.To.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY recorded_at DESC, sequence_number DESC LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	return s.queryRecords(ctx, query, args...)
}

// ChainFor returns a tenant's records in sequence order.
func (s *SQLiteStore) ChainFor(ctx context.Context, tenantID string) ([]*contracts.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_records
        WHERE tenant_id = ? ORDER BY sequence_number ASC`
	return s.queryRecords(ctx, query, tenantID)
}

// Last returns the newest record for a tenant, or nil.
func (s *SQLiteStore) Last(ctx context.Context, tenantID string) (*contracts.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_records
        WHERE tenant_id = ? ORDER BY sequence_number DESC LIMIT 1`
	recs, err := s.queryRecords(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]*contracts.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*contracts.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (*contracts.AuditRecord, error) {
	var (
		rec                      contracts.AuditRecord
		eventType, sev, outcome  string
		before, after, metaJSON  sql.NullString
		actor, target            sql.NullString
		action, reason           sql.NullString
		eventTime, recordedAt    string
	)
	err := rows.Scan(&rec.ID, &rec.TenantID, &eventType, &sev, &outcome,
		&actor, &target, &action, &reason,
		&before, &after, &metaJSON,
		&rec.SequenceNumber, &rec.PreviousHash, &rec.RecordHash,
		&eventTime, &recordedAt)
	if err != nil {
		return nil, fmt.Errorf("audit: scan: %w", err)
	}

	rec.EventType = contracts.AuditEventType(eventType)
	rec.Severity = contracts.AuditSeverity(sev)
	rec.Outcome = contracts.AuditOutcome(outcome)
	rec.Actor = actor.String
	rec.Target = target.String
	rec.Action = action.String
	rec.Reason = reason.String
	if before.Valid && before.String != "" {
		rec.BeforeState = json.RawMessage(before.String)
	}
	if after.Valid && after.String != "" {
		rec.AfterState = json.RawMessage(after.String)
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		_ = json.Unmarshal([]byte(metaJSON.String), &rec.Metadata)
	}
	rec.EventTime = parseTime(eventTime)
	rec.RecordedAt = parseTime(recordedAt)
	return &rec, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
