// Package store defines the durable persistence contract behind the state
// cache and its conforming backends: an embedded single-file engine (sqlite),
// a client/server relational engine (postgres), and an in-memory store for
// tests. Backends are functionally interchangeable; selection is a config
// concern.
//
// All operations are synchronous and context-bound. The coordinator owns the
// asynchrony: durable writes are dispatched to background goroutines so no
// event-handling caller ever blocks on storage latency.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wardenlabs/wardstate/internal/record"
)

// ErrNotFound is returned when a record or blob does not exist. Callers treat
// it as an absence signal, never as a failure.
var ErrNotFound = errors.New("record not found")

// BlobClass selects one of the two independent keyed blob tables.
type BlobClass string

const (
	// BlobPreSession holds the snapshot taken before a session begins.
	BlobPreSession BlobClass = "pre"
	// BlobInSession holds the snapshot taken during a session.
	BlobInSession BlobClass = "session"
)

// Stats describes store-level statistics for diagnostics.
type Stats struct {
	Backend            string `json:"backend"`
	SessionCount       int64  `json:"session_count"`
	PursuitCount       int64  `json:"pursuit_count"`
	ActivePursuitCount int64  `json:"active_pursuit_count"`
	BlobCount          int64  `json:"blob_count"`
	StorageBytes       int64  `json:"storage_bytes"`
}

// Store is the durable backend contract.
type Store interface {
	// Ping verifies connectivity. A failure here at boot is the only fatal
	// store error in the system.
	Ping(ctx context.Context) error

	LoadSession(ctx context.Context, actorID string) (*record.SessionRecord, error)
	LoadSessionByName(ctx context.Context, name string) (*record.SessionRecord, error)
	// LoadAllSessions returns the full snapshot used for boot hydration.
	LoadAllSessions(ctx context.Context) ([]*record.SessionRecord, error)
	LoadSessions(ctx context.Context, actorIDs []string) ([]*record.SessionRecord, error)
	SaveSession(ctx context.Context, r *record.SessionRecord) error
	SaveSessions(ctx context.Context, rs []*record.SessionRecord) error
	DeleteSession(ctx context.Context, actorID string) error

	SavePursuit(ctx context.Context, p *record.PursuitRecord) error
	LoadPursuit(ctx context.Context, chaseID string) (*record.PursuitRecord, error)
	DeletePursuit(ctx context.Context, chaseID string) error
	LoadActivePursuits(ctx context.Context) ([]*record.PursuitRecord, error)
	// CleanupPursuits expires active pursuits whose expiry passed before now
	// and deletes terminated pursuits older than the retention window.
	// Returns how many rows were affected.
	CleanupPursuits(ctx context.Context, now time.Time, retain time.Duration) (int64, error)

	SaveBlob(ctx context.Context, class BlobClass, actorID string, data []byte) error
	// LoadBlob returns ErrNotFound when no payload is stored.
	LoadBlob(ctx context.Context, class BlobClass, actorID string) ([]byte, error)
	DeleteBlob(ctx context.Context, class BlobClass, actorID string) error
	// ListBlobActors enumerates which actor ids have a stored blob of the class.
	ListBlobActors(ctx context.Context, class BlobClass) ([]string, error)

	// Maintain runs backend-specific compaction/pruning (vacuum, analyze).
	Maintain(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	// Backup writes a consistent copy of the store to path.
	Backup(ctx context.Context, path string) error
	Close() error
}
