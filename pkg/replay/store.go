package replay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/voriongit/vorion/core/pkg/contracts"

	_ "modernc.org/sqlite"
)

// MemorySnapshotStore keeps snapshots in process. Append-only.
type MemorySnapshotStore struct {
	mu       sync.RWMutex
	byID     map[string]*contracts.Snapshot
	byIntent map[string]*contracts.Snapshot
}

// NewMemorySnapshotStore creates an empty store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		byID:     make(map[string]*contracts.Snapshot),
		byIntent: make(map[string]*contracts.Snapshot),
	}
}

// Save stores the snapshot. Existing ids are never overwritten.
func (s *MemorySnapshotStore) Save(_ context.Context, snap *contracts.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[snap.ID]; exists {
		return fmt.Errorf("replay: snapshot %s already exists", snap.ID)
	}
	s.byID[snap.ID] = snap
	s.byIntent[snap.IntentID] = snap
	return nil
}

// Get returns a snapshot by id.
func (s *MemorySnapshotStore) Get(_ context.Context, id string) (*contracts.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byID[id]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return snap, nil
}

// GetByIntent returns the snapshot for an intent id.
func (s *MemorySnapshotStore) GetByIntent(_ context.Context, intentID string) (*contracts.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byIntent[intentID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return snap, nil
}

// SQLiteSnapshotStore persists snapshots as JSON documents.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// NewSQLiteSnapshotStore creates the store and runs its migration.
func NewSQLiteSnapshotStore(db *sql.DB) (*SQLiteSnapshotStore, error) {
	s := &SQLiteSnapshotStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteSnapshotStore opens (or creates) the database at path.
func OpenSQLiteSnapshotStore(path string) (*SQLiteSnapshotStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("replay: open sqlite: %w", err)
	}
	return NewSQLiteSnapshotStore(db)
}

func (s *SQLiteSnapshotStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS snapshots (
        id TEXT PRIMARY KEY,
        intent_id TEXT NOT NULL,
        tenant_id TEXT NOT NULL,
        payload JSON NOT NULL,
        captured_at DATETIME
    );
    CREATE INDEX IF NOT EXISTS idx_snapshots_intent ON snapshots (intent_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Save stores the snapshot document.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, snap *contracts.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("replay: marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, intent_id, tenant_id, payload, captured_at) VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.IntentID, snap.TenantID, string(payload),
		snap.CapturedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("replay: insert snapshot: %w", err)
	}
	return nil
}

// Get returns a snapshot by id.
func (s *SQLiteSnapshotStore) Get(ctx context.Context, id string) (*contracts.Snapshot, error) {
	return s.queryOne(ctx, `SELECT payload FROM snapshots WHERE id = ?`, id)
}

// GetByIntent returns the newest snapshot for an intent.
func (s *SQLiteSnapshotStore) GetByIntent(ctx context.Context, intentID string) (*contracts.Snapshot, error) {
	return s.queryOne(ctx,
		`SELECT payload FROM snapshots WHERE intent_id = ? ORDER BY captured_at DESC LIMIT 1`, intentID)
}

// Close closes the underlying database.
func (s *SQLiteSnapshotStore) Close() error { return s.db.Close() }

func (s *SQLiteSnapshotStore) queryOne(ctx context.Context, query string, arg any) (*contracts.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("replay: query snapshot: %w", err)
	}
	var snap contracts.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("replay: decode snapshot: %w", err)
	}
	return &snap, nil
}
