package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wardenlabs/wardstate/internal/record"
)

// SQLiteStore implements Store using an embedded single-file sqlite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// schema. Use ":memory:" for an in-memory database in tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc sqlite is not safe for concurrent writers over one connection
	// pool entry; a single connection plus our mutex keeps it simple.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		actor_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		on_duty INTEGER NOT NULL DEFAULT 0,
		duty_started_at INTEGER NOT NULL DEFAULT 0,
		off_duty_since INTEGER NOT NULL DEFAULT 0,
		total_duty_time INTEGER NOT NULL DEFAULT 0,
		off_duty_earned INTEGER NOT NULL DEFAULT 0,
		off_duty_consumed INTEGER NOT NULL DEFAULT 0,
		grace_debt INTEGER NOT NULL DEFAULT 0,
		base_time_earned INTEGER NOT NULL DEFAULT 0,
		expiry_notified INTEGER NOT NULL DEFAULT 0,
		wanted_level INTEGER NOT NULL DEFAULT 0,
		wanted_expiry INTEGER NOT NULL DEFAULT 0,
		wanted_reason TEXT NOT NULL DEFAULT '',
		being_chased INTEGER NOT NULL DEFAULT 0,
		chaser_id TEXT NOT NULL DEFAULT '',
		chase_started_at INTEGER NOT NULL DEFAULT 0,
		penalty_start INTEGER NOT NULL DEFAULT 0,
		penalty_stage INTEGER NOT NULL DEFAULT 0,
		last_penalty_at INTEGER NOT NULL DEFAULT 0,
		last_slowness_at INTEGER NOT NULL DEFAULT 0,
		penalty_marker INTEGER NOT NULL DEFAULT 0,
		total_arrests INTEGER NOT NULL DEFAULT 0,
		total_violations INTEGER NOT NULL DEFAULT 0,
		total_kills INTEGER NOT NULL DEFAULT 0,
		guard_rank TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name);

	CREATE TABLE IF NOT EXISTS pursuits (
		chase_id TEXT PRIMARY KEY,
		guard_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		started_at INTEGER NOT NULL DEFAULT 0,
		expiry INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 0,
		end_reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_pursuits_active ON pursuits(active);

	CREATE TABLE IF NOT EXISTS blobs (
		class TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (class, actor_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Ping verifies connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadSession retrieves one session record, ErrNotFound if absent.
func (s *SQLiteStore) LoadSession(ctx context.Context, actorID string) (*record.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE actor_id = ?", actorID)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return r, nil
}

// LoadSessionByName retrieves a session record by display name.
func (s *SQLiteStore) LoadSessionByName(ctx context.Context, name string) (*record.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE name = ? LIMIT 1", name)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session by name: %w", err)
	}
	return r, nil
}

// LoadAllSessions returns the full snapshot for boot hydration.
func (s *SQLiteStore) LoadAllSessions(ctx context.Context) ([]*record.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+sessionColumns+" FROM sessions")
	if err != nil {
		return nil, fmt.Errorf("load all sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

// LoadSessions retrieves a batch of session records by id; missing ids are
// simply absent from the result.
func (s *SQLiteStore) LoadSessions(ctx context.Context, actorIDs []string) ([]*record.SessionRecord, error) {
	if len(actorIDs) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, len(actorIDs))
	for i, id := range actorIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE actor_id IN ("+placeholders(len(actorIDs))+")", args...)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]*record.SessionRecord, error) {
	var out []*record.SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// SaveSession upserts one session record.
func (s *SQLiteStore) SaveSession(ctx context.Context, r *record.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions ("+sessionColumns+") VALUES ("+placeholders(sessionColumnCount)+")",
		sessionArgs(r)...)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SaveSessions upserts a batch in one transaction (used by the shutdown flush).
func (s *SQLiteStore) SaveSessions(ctx context.Context, rs []*record.SessionRecord) error {
	if len(rs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch save: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO sessions ("+sessionColumns+") VALUES ("+placeholders(sessionColumnCount)+")")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch save: %w", err)
	}
	defer stmt.Close()
	for _, r := range rs {
		if _, err := stmt.ExecContext(ctx, sessionArgs(r)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("batch save session %s: %w", r.ActorID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch save: %w", err)
	}
	return nil
}

// DeleteSession removes one session record.
func (s *SQLiteStore) DeleteSession(ctx context.Context, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE actor_id = ?", actorID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SavePursuit upserts one pursuit record.
func (s *SQLiteStore) SavePursuit(ctx context.Context, p *record.PursuitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO pursuits ("+pursuitColumns+") VALUES ("+placeholders(7)+")",
		pursuitArgs(p)...)
	if err != nil {
		return fmt.Errorf("save pursuit: %w", err)
	}
	return nil
}

// LoadPursuit retrieves one pursuit record, ErrNotFound if absent.
func (s *SQLiteStore) LoadPursuit(ctx context.Context, chaseID string) (*record.PursuitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+pursuitColumns+" FROM pursuits WHERE chase_id = ?", chaseID)
	p, err := scanPursuit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pursuit: %w", err)
	}
	return p, nil
}

// DeletePursuit removes one pursuit record.
func (s *SQLiteStore) DeletePursuit(ctx context.Context, chaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM pursuits WHERE chase_id = ?", chaseID); err != nil {
		return fmt.Errorf("delete pursuit: %w", err)
	}
	return nil
}

// LoadActivePursuits returns the active set for boot hydration.
func (s *SQLiteStore) LoadActivePursuits(ctx context.Context) ([]*record.PursuitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+pursuitColumns+" FROM pursuits WHERE active = 1")
	if err != nil {
		return nil, fmt.Errorf("load active pursuits: %w", err)
	}
	defer rows.Close()

	var out []*record.PursuitRecord
	for rows.Next() {
		p, err := scanPursuit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pursuit: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// CleanupPursuits expires overdue active pursuits and prunes old terminated ones.
func (s *SQLiteStore) CleanupPursuits(ctx context.Context, now time.Time, retain time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMS := now.UnixMilli()
	res, err := s.db.ExecContext(ctx,
		"UPDATE pursuits SET active = 0, end_reason = ? WHERE active = 1 AND expiry > 0 AND expiry <= ?",
		string(record.EndReasonExpired), nowMS)
	if err != nil {
		return 0, fmt.Errorf("expire pursuits: %w", err)
	}
	expired, _ := res.RowsAffected()

	cutoff := now.Add(-retain).UnixMilli()
	res, err = s.db.ExecContext(ctx,
		"DELETE FROM pursuits WHERE active = 0 AND started_at < ?", cutoff)
	if err != nil {
		return expired, fmt.Errorf("prune pursuits: %w", err)
	}
	pruned, _ := res.RowsAffected()
	return expired + pruned, nil
}

// SaveBlob stores or replaces an opaque payload for the actor in the class.
func (s *SQLiteStore) SaveBlob(ctx context.Context, class BlobClass, actorID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO blobs (class, actor_id, data, updated_at) VALUES (?, ?, ?, ?)",
		string(class), actorID, data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save blob: %w", err)
	}
	return nil
}

// LoadBlob returns the stored payload, ErrNotFound if absent.
func (s *SQLiteStore) LoadBlob(ctx context.Context, class BlobClass, actorID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM blobs WHERE class = ? AND actor_id = ?", string(class), actorID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load blob: %w", err)
	}
	return data, nil
}

// DeleteBlob removes a stored payload.
func (s *SQLiteStore) DeleteBlob(ctx context.Context, class BlobClass, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM blobs WHERE class = ? AND actor_id = ?", string(class), actorID); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// ListBlobActors enumerates actor ids with a stored blob of the class.
func (s *SQLiteStore) ListBlobActors(ctx context.Context, class BlobClass) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT actor_id FROM blobs WHERE class = ?", string(class))
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan blob actor: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Maintain compacts and re-analyzes the database file.
func (s *SQLiteStore) Maintain(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return nil
}

// Stats reports record counts and the on-disk size.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Backend: "sqlite"}
	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM sessions", &st.SessionCount},
		{"SELECT COUNT(*) FROM pursuits", &st.PursuitCount},
		{"SELECT COUNT(*) FROM pursuits WHERE active = 1", &st.ActivePursuitCount},
		{"SELECT COUNT(*) FROM blobs", &st.BlobCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return st, fmt.Errorf("count query: %w", err)
		}
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return st, fmt.Errorf("page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return st, fmt.Errorf("page size: %w", err)
	}
	st.StorageBytes = pageCount * pageSize
	return st, nil
}

// Backup writes a consistent compacted copy of the database to path.
func (s *SQLiteStore) Backup(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("backup into %s: %w", path, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
