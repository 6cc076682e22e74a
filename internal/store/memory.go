package store

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/wardenlabs/wardstate/internal/record"
)

// MemoryStore is an in-memory implementation of Store for tests. It tracks
// method invocations so tests can verify coordinator dispatch behavior.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*record.SessionRecord
	pursuits map[string]*record.PursuitRecord
	blobs    map[BlobClass]map[string][]byte
	calls    MemoryCalls
	closed   bool
}

// MemoryCalls tracks method invocations for test verification.
type MemoryCalls struct {
	SaveSession  int
	SaveSessions int
	LoadSession  int
	LoadAll      int
	Delete       int
	SavePursuit  int
	Maintain     int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*record.SessionRecord),
		pursuits: make(map[string]*record.PursuitRecord),
		blobs: map[BlobClass]map[string][]byte{
			BlobPreSession: {},
			BlobInSession:  {},
		},
	}
}

// Calls returns a copy of the invocation counters.
func (m *MemoryStore) Calls() MemoryCalls {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) LoadSession(_ context.Context, actorID string) (*record.SessionRecord, error) {
	m.mu.Lock()
	m.calls.LoadSession++
	r, ok := m.sessions[actorID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) LoadSessionByName(_ context.Context, name string) (*record.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.sessions {
		if r.Name == name {
			return r.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) LoadAllSessions(_ context.Context) ([]*record.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.LoadAll++
	out := make([]*record.SessionRecord, 0, len(m.sessions))
	for _, r := range m.sessions {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *MemoryStore) LoadSessions(_ context.Context, actorIDs []string) ([]*record.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*record.SessionRecord
	for _, id := range actorIDs {
		if r, ok := m.sessions[id]; ok {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, r *record.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.SaveSession++
	m.sessions[r.ActorID] = r.Clone()
	return nil
}

func (m *MemoryStore) SaveSessions(_ context.Context, rs []*record.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.SaveSessions++
	for _, r := range rs {
		m.sessions[r.ActorID] = r.Clone()
	}
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Delete++
	delete(m.sessions, actorID)
	return nil
}

func (m *MemoryStore) SavePursuit(_ context.Context, p *record.PursuitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.SavePursuit++
	m.pursuits[p.ChaseID] = p.Clone()
	return nil
}

func (m *MemoryStore) LoadPursuit(_ context.Context, chaseID string) (*record.PursuitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pursuits[chaseID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) DeletePursuit(_ context.Context, chaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pursuits, chaseID)
	return nil
}

func (m *MemoryStore) LoadActivePursuits(_ context.Context) ([]*record.PursuitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*record.PursuitRecord
	for _, p := range m.pursuits {
		if p.Active {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) CleanupPursuits(_ context.Context, now time.Time, retain time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected int64
	cutoff := now.Add(-retain).UnixMilli()
	for id, p := range m.pursuits {
		if p.Active && p.ExpiredAt(now) {
			p.End(record.EndReasonExpired)
			affected++
			continue
		}
		if !p.Active && p.StartedAt < cutoff {
			delete(m.pursuits, id)
			affected++
		}
	}
	return affected, nil
}

func (m *MemoryStore) SaveBlob(_ context.Context, class BlobClass, actorID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[class][actorID] = cp
	return nil
}

func (m *MemoryStore) LoadBlob(_ context.Context, class BlobClass, actorID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[class][actorID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (m *MemoryStore) DeleteBlob(_ context.Context, class BlobClass, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs[class], actorID)
	return nil
}

func (m *MemoryStore) ListBlobActors(_ context.Context, class BlobClass) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.blobs[class]))
	for id := range m.blobs[class] {
		out = append(out, id)
	}
	return out, nil
}

func (m *MemoryStore) Maintain(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Maintain++
	return nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{Backend: "memory", SessionCount: int64(len(m.sessions)), PursuitCount: int64(len(m.pursuits))}
	for _, p := range m.pursuits {
		if p.Active {
			st.ActivePursuitCount++
		}
	}
	for _, class := range m.blobs {
		st.BlobCount += int64(len(class))
	}
	return st, nil
}

func (m *MemoryStore) Backup(_ context.Context, path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := struct {
		Sessions map[string]*record.SessionRecord `json:"sessions"`
		Pursuits map[string]*record.PursuitRecord `json:"pursuits"`
	}{m.sessions, m.pursuits}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called (test helper).
func (m *MemoryStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
