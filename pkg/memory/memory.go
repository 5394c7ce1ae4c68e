// Package memory persists per-user profile records under time/policy-based
// retention.
//
// The backing store is a single embedded SQLite file. Every write prunes
// the user's existing rows according to the new record's retention policy
// before inserting, so retention is enforced as a property of the write
// path rather than a background job. One mutex serializes all access; the
// prune-then-insert sequence is never interleaved with a concurrent write
// for the same user.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/thenote/backend/pkg/telemetry"
)

// ErrInvalidRecord is returned when a record fails validation.
var ErrInvalidRecord = errors.New("memory: invalid record")

// Retention policies.
const (
	RetentionSessionOnly = "session_only"
	Retention30Days      = "30_days"
	Retention90Days      = "90_days"
	Retention180Days     = "180_days"
)

// retentionWindows maps windowed policies to their durations. An
// unrecognized policy falls back to the 90-day window.
var retentionWindows = map[string]time.Duration{
	Retention30Days:  30 * 24 * time.Hour,
	Retention90Days:  90 * 24 * time.Hour,
	Retention180Days: 180 * 24 * time.Hour,
}

// Record is one stored profile row.
type Record struct {
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	ConsentToken     string    `json:"consent_token"`
	ProfileEmbedding []float64 `json:"profile_embedding"`
	ContextSummary   string    `json:"context_summary"`
	RetentionPolicy  string    `json:"retention_policy"`
	CreatedAt        time.Time `json:"created_at"`
}

// Validate checks the record's required fields.
func (r *Record) Validate() error {
	if r.SessionID == "" || r.UserID == "" {
		return fmt.Errorf("%w: missing session_id or user_id", ErrInvalidRecord)
	}
	if r.ConsentToken == "" {
		return fmt.Errorf("%w: missing consent_token", ErrInvalidRecord)
	}
	return nil
}

// Profile is the derived view over a user's recent records: the
// element-wise mean of their embeddings plus the newest record's policy.
type Profile struct {
	UserID      string            `json:"user_id"`
	Preferences map[string]string `json:"preferences"`
	Embeddings  []float64         `json:"embeddings"`
}

// Query selects a user's records, newest first.
type Query struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

// DefaultQueryLimit applies when Query.Limit is zero or negative.
const DefaultQueryLimit = 10

// Store is the adaptive memory store.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	tel    *telemetry.Registry
	logger *slog.Logger

	// now is swapped in tests to control retention windows.
	now func() time.Time
}

// Open creates or opens the store at dbPath. Parent directories are
// created as needed.
func Open(dbPath string, tel *telemetry.Registry, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("memory: create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("memory: open db: %w", err)
	}
	s := &Store{db: db, tel: tel, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id        TEXT NOT NULL,
		user_id           TEXT NOT NULL,
		consent_token     TEXT NOT NULL,
		profile_embedding BLOB NOT NULL,
		context_summary   TEXT NOT NULL,
		retention_policy  TEXT NOT NULL,
		created_at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_user ON records(user_id);
	CREATE INDEX IF NOT EXISTS idx_records_session ON records(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert prunes the user's rows per the record's retention policy, then
// inserts the record. Pruning always happens before the insert, inside the
// same locked section.
func (s *Store) Upsert(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	embedding, err := msgpack.Marshal(rec.ProfileEmbedding)
	if err != nil {
		return fmt.Errorf("memory: encode embedding: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.prune(ctx, rec.UserID, rec.RetentionPolicy); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (session_id, user_id, consent_token, profile_embedding,
		                     context_summary, retention_policy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.UserID, rec.ConsentToken, embedding,
		rec.ContextSummary, rec.RetentionPolicy, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("memory: insert record: %w", err)
	}

	s.logger.Info("memory upserted",
		"session_id", rec.SessionID,
		"user_id", rec.UserID,
		"retention", rec.RetentionPolicy)
	if s.tel != nil {
		s.tel.Inc("memory.upserts", 1)
	}
	return nil
}

// prune deletes the rows the new write's policy invalidates. Caller holds
// the store lock.
func (s *Store) prune(ctx context.Context, userID, policy string) error {
	if policy == RetentionSessionOnly {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM records WHERE user_id = ? AND retention_policy = ?`,
			userID, RetentionSessionOnly)
		if err != nil {
			return fmt.Errorf("memory: prune session_only: %w", err)
		}
		return nil
	}
	window, ok := retentionWindows[policy]
	if !ok {
		window = retentionWindows[Retention90Days]
	}
	threshold := s.now().UTC().Add(-window).Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE user_id = ? AND created_at < ?`,
		userID, threshold)
	if err != nil {
		return fmt.Errorf("memory: prune window: %w", err)
	}
	return nil
}

// FetchProfile averages the user's most recent embeddings and reports the
// newest record's retention policy. Returns (nil, nil) when the user has
// no records.
func (s *Store) FetchProfile(ctx context.Context, q Query) (*Profile, error) {
	records, err := s.ListRecent(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	var averaged []float64
	if n := len(records[0].ProfileEmbedding); n > 0 {
		averaged = make([]float64, n)
		for _, rec := range records {
			for i, v := range rec.ProfileEmbedding {
				if i < n {
					averaged[i] += v
				}
			}
		}
		for i := range averaged {
			averaged[i] /= float64(len(records))
		}
	}
	return &Profile{
		UserID:      q.UserID,
		Preferences: map[string]string{"retention_policy": records[0].RetentionPolicy},
		Embeddings:  averaged,
	}, nil
}

// ListRecent returns up to limit records for the user, newest first.
func (s *Store) ListRecent(ctx context.Context, q Query) ([]*Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, consent_token, profile_embedding,
		       context_summary, retention_policy, created_at
		FROM records
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, q.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: query records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var embedding []byte
		var createdAt string
		if err := rows.Scan(&rec.SessionID, &rec.UserID, &rec.ConsentToken,
			&embedding, &rec.ContextSummary, &rec.RetentionPolicy, &createdAt); err != nil {
			return nil, fmt.Errorf("memory: scan record: %w", err)
		}
		if err := msgpack.Unmarshal(embedding, &rec.ProfileEmbedding); err != nil {
			return nil, fmt.Errorf("memory: decode embedding: %w", err)
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("memory: parse created_at: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: iterate records: %w", err)
	}
	if s.tel != nil {
		s.tel.Inc("memory.queries", 1)
	}
	return records, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
