package registry

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yang-kun-long/YanheKt-AI/internal/config"
)

// Store manages state documents backed by SQLite.
type Store struct {
	db   *sql.DB
	path string

	mu  sync.Mutex
	now func() time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open initializes or connects to the registry database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.RegistryPath())
}

// OpenPath opens the registry database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the record for objectID, or nil when none exists.
func (s *Store) Get(ctx context.Context, objectID string) (*Record, error) {
	ctx = ensureContext(ctx)
	var document string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT document FROM pipeline_state WHERE object_id = ?", objectID,
		).Scan(&document)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", objectID, err)
	}
	return decodeRecord(document)
}

// Upsert merges patch into the document for objectID, creating it when
// absent, and returns the resulting record. objectId, createdAt, and
// updatedAt are maintained by the store.
func (s *Store) Upsert(ctx context.Context, objectID string, patch Patch) (*Record, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(objectID) == "" {
		return nil, errors.New("upsert: object id required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result *Record
	err := retryOnBusy(ctx, func() error {
		rec, err := s.upsertTx(ctx, objectID, patch)
		if err != nil {
			return err
		}
		result = rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", objectID, err)
	}
	return result, nil
}

func (s *Store) upsertTx(ctx context.Context, objectID string, patch Patch) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	doc := map[string]any{}
	var existing string
	switch err := tx.QueryRowContext(ctx, "SELECT document FROM pipeline_state WHERE object_id = ?", objectID).Scan(&existing); {
	case errors.Is(err, sql.ErrNoRows):
		doc["createdAt"] = now
		doc["attempts"] = 0
		doc["stage"] = StageCheck
		doc["progress"] = 0
		doc["message"] = ""
	case err != nil:
		return nil, err
	default:
		decoder := json.NewDecoder(bytes.NewReader([]byte(existing)))
		decoder.UseNumber()
		if err := decoder.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode stored document: %w", err)
		}
	}

	applyPatch(doc, patch)
	doc["objectId"] = objectID
	doc["updatedAt"] = now
	if _, ok := doc["createdAt"]; !ok {
		doc["createdAt"] = now
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	rec, err := decodeRecord(string(encoded))
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO pipeline_state (object_id, stage, session_id, document, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(object_id) DO UPDATE SET
    stage = excluded.stage,
    session_id = excluded.session_id,
    document = excluded.document,
    updated_at = excluded.updated_at`,
		objectID,
		string(rec.Stage),
		nullableString(rec.SessionID()),
		string(encoded),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkStep records step in the ledger for objectID.
func (s *Store) MarkStep(ctx context.Context, objectID, step string) (*Record, error) {
	return s.Upsert(ctx, objectID, MarkStep(step, s.now()))
}

// List returns records ordered by most recent update, optionally filtered by stage.
func (s *Store) List(ctx context.Context, stages ...Stage) ([]*Record, error) {
	ctx = ensureContext(ctx)
	query := "SELECT document FROM pipeline_state"
	args := make([]any, 0, len(stages))
	if len(stages) > 0 {
		query += " WHERE stage IN (" + makePlaceholders(len(stages)) + ")"
		for _, stage := range stages {
			args = append(args, string(stage))
		}
	}
	query += " ORDER BY updated_at DESC, object_id"

	var records []*Record
	err := retryOnBusy(ctx, func() error {
		records = records[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var document string
			if err := rows.Scan(&document); err != nil {
				return err
			}
			rec, err := decodeRecord(document)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// FindBySessionID returns the most recently updated record whose
// meta.sessionId equals sessionID, or nil.
func (s *Store) FindBySessionID(ctx context.Context, sessionID string) (*Record, error) {
	ctx = ensureContext(ctx)
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, nil
	}
	var document string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT document FROM pipeline_state WHERE session_id = ? ORDER BY updated_at DESC LIMIT 1", sessionID,
		).Scan(&document)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", sessionID, err)
	}
	return decodeRecord(document)
}

func decodeRecord(document string) (*Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(document), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
