package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenlabs/wardstate/internal/record"
)

// PostgresStore implements Store against a client/server postgres instance
// via a pgx connection pool. It is functionally interchangeable with the
// sqlite backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects with the given DSN and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		actor_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		on_duty BOOLEAN NOT NULL DEFAULT FALSE,
		duty_started_at BIGINT NOT NULL DEFAULT 0,
		off_duty_since BIGINT NOT NULL DEFAULT 0,
		total_duty_time BIGINT NOT NULL DEFAULT 0,
		off_duty_earned BIGINT NOT NULL DEFAULT 0,
		off_duty_consumed BIGINT NOT NULL DEFAULT 0,
		grace_debt BIGINT NOT NULL DEFAULT 0,
		base_time_earned BOOLEAN NOT NULL DEFAULT FALSE,
		expiry_notified BOOLEAN NOT NULL DEFAULT FALSE,
		wanted_level INTEGER NOT NULL DEFAULT 0,
		wanted_expiry BIGINT NOT NULL DEFAULT 0,
		wanted_reason TEXT NOT NULL DEFAULT '',
		being_chased BOOLEAN NOT NULL DEFAULT FALSE,
		chaser_id TEXT NOT NULL DEFAULT '',
		chase_started_at BIGINT NOT NULL DEFAULT 0,
		penalty_start BIGINT NOT NULL DEFAULT 0,
		penalty_stage INTEGER NOT NULL DEFAULT 0,
		last_penalty_at BIGINT NOT NULL DEFAULT 0,
		last_slowness_at BIGINT NOT NULL DEFAULT 0,
		penalty_marker BOOLEAN NOT NULL DEFAULT FALSE,
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
		started_at BIGINT NOT NULL DEFAULT 0,
		expiry BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		end_reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_pursuits_active ON pursuits(active);

	CREATE TABLE IF NOT EXISTS blobs (
		class TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		data BYTEA NOT NULL,
		updated_at BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (class, actor_id)
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func pgPlaceholders(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i)
	}
	return b.String()
}

// pgUpsertSessionSQL builds the session upsert once; every non-key column is
// overwritten (last-write-wins).
var pgUpsertSessionSQL = func() string {
	var sets []string
	for _, col := range sessionColumnNames[1:] {
		sets = append(sets, col+" = EXCLUDED."+col)
	}
	return "INSERT INTO sessions (" + sessionColumns + ") VALUES (" + pgPlaceholders(sessionColumnCount) + ")" +
		" ON CONFLICT (actor_id) DO UPDATE SET " + strings.Join(sets, ", ")
}()

const pgUpsertPursuitSQL = "INSERT INTO pursuits (" + pursuitColumns + ") VALUES ($1, $2, $3, $4, $5, $6, $7)" +
	" ON CONFLICT (chase_id) DO UPDATE SET guard_id = EXCLUDED.guard_id, target_id = EXCLUDED.target_id," +
	" started_at = EXCLUDED.started_at, expiry = EXCLUDED.expiry, active = EXCLUDED.active, end_reason = EXCLUDED.end_reason"

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// LoadSession retrieves one session record, ErrNotFound if absent.
func (s *PostgresStore) LoadSession(ctx context.Context, actorID string) (*record.SessionRecord, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE actor_id = $1", actorID)
	r, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return r, nil
}

// LoadSessionByName retrieves a session record by display name.
func (s *PostgresStore) LoadSessionByName(ctx context.Context, name string) (*record.SessionRecord, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE name = $1 LIMIT 1", name)
	r, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session by name: %w", err)
	}
	return r, nil
}

// LoadAllSessions returns the full snapshot for boot hydration.
func (s *PostgresStore) LoadAllSessions(ctx context.Context) ([]*record.SessionRecord, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+sessionColumns+" FROM sessions")
	if err != nil {
		return nil, fmt.Errorf("load all sessions: %w", err)
	}
	defer rows.Close()
	return collectPgSessions(rows)
}

// LoadSessions retrieves a batch of session records by id.
func (s *PostgresStore) LoadSessions(ctx context.Context, actorIDs []string) ([]*record.SessionRecord, error) {
	if len(actorIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE actor_id = ANY($1)", actorIDs)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()
	return collectPgSessions(rows)
}

func collectPgSessions(rows pgx.Rows) ([]*record.SessionRecord, error) {
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
func (s *PostgresStore) SaveSession(ctx context.Context, r *record.SessionRecord) error {
	if _, err := s.pool.Exec(ctx, pgUpsertSessionSQL, sessionArgs(r)...); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SaveSessions upserts a batch in one round trip via pgx batching.
func (s *PostgresStore) SaveSessions(ctx context.Context, rs []*record.SessionRecord) error {
	if len(rs) == 0 {
		return nil
	}
	var batch pgx.Batch
	for _, r := range rs {
		batch.Queue(pgUpsertSessionSQL, sessionArgs(r)...)
	}
	br := s.pool.SendBatch(ctx, &batch)
	defer br.Close()
	for range rs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch save session: %w", err)
		}
	}
	return nil
}

// DeleteSession removes one session record.
func (s *PostgresStore) DeleteSession(ctx context.Context, actorID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE actor_id = $1", actorID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SavePursuit upserts one pursuit record.
func (s *PostgresStore) SavePursuit(ctx context.Context, p *record.PursuitRecord) error {
	if _, err := s.pool.Exec(ctx, pgUpsertPursuitSQL, pursuitArgs(p)...); err != nil {
		return fmt.Errorf("save pursuit: %w", err)
	}
	return nil
}

// LoadPursuit retrieves one pursuit record, ErrNotFound if absent.
func (s *PostgresStore) LoadPursuit(ctx context.Context, chaseID string) (*record.PursuitRecord, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+pursuitColumns+" FROM pursuits WHERE chase_id = $1", chaseID)
	p, err := scanPursuit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pursuit: %w", err)
	}
	return p, nil
}

// DeletePursuit removes one pursuit record.
func (s *PostgresStore) DeletePursuit(ctx context.Context, chaseID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM pursuits WHERE chase_id = $1", chaseID); err != nil {
		return fmt.Errorf("delete pursuit: %w", err)
	}
	return nil
}

// LoadActivePursuits returns the active set for boot hydration.
func (s *PostgresStore) LoadActivePursuits(ctx context.Context) ([]*record.PursuitRecord, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+pursuitColumns+" FROM pursuits WHERE active")
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
func (s *PostgresStore) CleanupPursuits(ctx context.Context, now time.Time, retain time.Duration) (int64, error) {
	nowMS := now.UnixMilli()
	tag, err := s.pool.Exec(ctx,
		"UPDATE pursuits SET active = FALSE, end_reason = $1 WHERE active AND expiry > 0 AND expiry <= $2",
		string(record.EndReasonExpired), nowMS)
	if err != nil {
		return 0, fmt.Errorf("expire pursuits: %w", err)
	}
	affected := tag.RowsAffected()

	cutoff := now.Add(-retain).UnixMilli()
	tag, err = s.pool.Exec(ctx,
		"DELETE FROM pursuits WHERE NOT active AND started_at < $1", cutoff)
	if err != nil {
		return affected, fmt.Errorf("prune pursuits: %w", err)
	}
	return affected + tag.RowsAffected(), nil
}

// SaveBlob stores or replaces an opaque payload for the actor in the class.
func (s *PostgresStore) SaveBlob(ctx context.Context, class BlobClass, actorID string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO blobs (class, actor_id, data, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (class, actor_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		string(class), actorID, data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save blob: %w", err)
	}
	return nil
}

// LoadBlob returns the stored payload, ErrNotFound if absent.
func (s *PostgresStore) LoadBlob(ctx context.Context, class BlobClass, actorID string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		"SELECT data FROM blobs WHERE class = $1 AND actor_id = $2", string(class), actorID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load blob: %w", err)
	}
	return data, nil
}

// DeleteBlob removes a stored payload.
func (s *PostgresStore) DeleteBlob(ctx context.Context, class BlobClass, actorID string) error {
	if _, err := s.pool.Exec(ctx,
		"DELETE FROM blobs WHERE class = $1 AND actor_id = $2", string(class), actorID); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// ListBlobActors enumerates actor ids with a stored blob of the class.
func (s *PostgresStore) ListBlobActors(ctx context.Context, class BlobClass) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT actor_id FROM blobs WHERE class = $1", string(class))
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

// Maintain re-analyzes the tables. Full VACUUM is left to the server's
// autovacuum; ANALYZE keeps the planner statistics fresh.
func (s *PostgresStore) Maintain(ctx context.Context) error {
	for _, table := range []string{"sessions", "pursuits", "blobs"} {
		if _, err := s.pool.Exec(ctx, "ANALYZE "+table); err != nil {
			return fmt.Errorf("analyze %s: %w", table, err)
		}
	}
	return nil
}

// Stats reports record counts and the database size.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: "postgres"}
	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM sessions", &st.SessionCount},
		{"SELECT COUNT(*) FROM pursuits", &st.PursuitCount},
		{"SELECT COUNT(*) FROM pursuits WHERE active", &st.ActivePursuitCount},
		{"SELECT COUNT(*) FROM blobs", &st.BlobCount},
		{"SELECT pg_database_size(current_database())", &st.StorageBytes},
	}
	for _, c := range counts {
		if err := s.pool.QueryRow(ctx, c.query).Scan(c.dest); err != nil {
			return st, fmt.Errorf("stats query: %w", err)
		}
	}
	return st, nil
}

// backupRow is one line of the JSON-lines export written by Backup.
type backupRow struct {
	Table   string                `json:"table"`
	Session *record.SessionRecord `json:"session,omitempty"`
	Pursuit *record.PursuitRecord `json:"pursuit,omitempty"`
	Blob    *backupBlob           `json:"blob,omitempty"`
}

type backupBlob struct {
	Class   string `json:"class"`
	ActorID string `json:"actor_id"`
	Data    []byte `json:"data"`
}

// Backup writes a JSON-lines export of all tables to path. Postgres has no
// single-file copy primitive reachable from a client connection, so the
// export is row-level.
func (s *PostgresStore) Backup(ctx context.Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	sessions, err := s.LoadAllSessions(ctx)
	if err != nil {
		return err
	}
	for _, r := range sessions {
		if err := enc.Encode(backupRow{Table: "sessions", Session: r}); err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx, "SELECT "+pursuitColumns+" FROM pursuits")
	if err != nil {
		return fmt.Errorf("export pursuits: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPursuit(rows)
		if err != nil {
			return fmt.Errorf("scan pursuit: %w", err)
		}
		if err := enc.Encode(backupRow{Table: "pursuits", Pursuit: p}); err != nil {
			return fmt.Errorf("encode pursuit: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate pursuits: %w", err)
	}

	blobRows, err := s.pool.Query(ctx, "SELECT class, actor_id, data FROM blobs")
	if err != nil {
		return fmt.Errorf("export blobs: %w", err)
	}
	defer blobRows.Close()
	for blobRows.Next() {
		var b backupBlob
		if err := blobRows.Scan(&b.Class, &b.ActorID, &b.Data); err != nil {
			return fmt.Errorf("scan blob: %w", err)
		}
		if err := enc.Encode(backupRow{Table: "blobs", Blob: &b}); err != nil {
			return fmt.Errorf("encode blob: %w", err)
		}
	}
	if err := blobRows.Err(); err != nil {
		return fmt.Errorf("iterate blobs: %w", err)
	}

	return w.Flush()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
