package coordinator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wardenlabs/wardstate/internal/logfields"
	"github.com/wardenlabs/wardstate/internal/store"
)

// Blob payloads are opaque bytes persisted directly to the store; they are
// not cached. Absence is an explicit signal, never an error — callers
// proceed with defaults.

// SaveBlob persists the payload asynchronously.
func (c *Coordinator) SaveBlob(class store.BlobClass, actorID string, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	c.async("save_blob", func(ctx context.Context) error {
		return c.store.SaveBlob(ctx, class, actorID, cp)
	})
}

// LoadBlob returns the stored payload and true, or nil and false when no
// payload exists or the load fails. Failures are logged, not propagated.
func (c *Coordinator) LoadBlob(ctx context.Context, class store.BlobClass, actorID string) ([]byte, bool) {
	data, err := c.store.LoadBlob(ctx, class, actorID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		slog.Warn("Blob load failed; treating as absent",
			logfields.ActorID(actorID), slog.String("class", string(class)), logfields.Error(err))
		return nil, false
	}
	return data, true
}

// HasBlob reports whether a payload is stored for the actor.
func (c *Coordinator) HasBlob(ctx context.Context, class store.BlobClass, actorID string) bool {
	_, ok := c.LoadBlob(ctx, class, actorID)
	return ok
}

// DeleteBlob removes the payload asynchronously.
func (c *Coordinator) DeleteBlob(class store.BlobClass, actorID string) {
	c.async("delete_blob", func(ctx context.Context) error {
		return c.store.DeleteBlob(ctx, class, actorID)
	})
}

// ListBlobActors enumerates which actors have a stored payload of the class.
// Failures are logged and yield an empty list.
func (c *Coordinator) ListBlobActors(ctx context.Context, class store.BlobClass) []string {
	ids, err := c.store.ListBlobActors(ctx, class)
	if err != nil {
		slog.Warn("Blob enumeration failed",
			slog.String("class", string(class)), logfields.Error(err))
		return nil
	}
	return ids
}
