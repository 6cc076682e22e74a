package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wardenlabs/wardstate/internal/logfields"
	"github.com/wardenlabs/wardstate/internal/record"
)

// StartPursuit opens a new chase between a guard and a target. At most one
// active pursuit may exist per guard and per target; a second start for
// either party is rejected. The target's session record gains the pursuit
// linkage immediately.
func (c *Coordinator) StartPursuit(guardID, targetID string, d time.Duration) (*record.PursuitRecord, error) {
	c.pursuitMu.Lock()
	defer c.pursuitMu.Unlock()

	now := c.now()
	if existing := c.findActive(func(p *record.PursuitRecord) bool { return p.GuardID == guardID }, now); existing != nil {
		return nil, fmt.Errorf("guard %s already has an active pursuit %s", guardID, existing.ChaseID)
	}
	if existing := c.findActive(func(p *record.PursuitRecord) bool { return p.TargetID == targetID }, now); existing != nil {
		return nil, fmt.Errorf("target %s is already being chased in pursuit %s", targetID, existing.ChaseID)
	}

	p := record.NewPursuit(uuid.NewString(), guardID, targetID, d, now)
	c.pursuits.Put(p.ChaseID, p, now)
	c.async("save_pursuit", func(ctx context.Context) error {
		return c.store.SavePursuit(ctx, p)
	})

	// Mirror the linkage onto the target's session record so the derived
	// IsBeingChased read works from the cache alone.
	target := c.Get(targetID)
	target.BeingChased = true
	target.ChaserID = guardID
	target.ChaseStartedAt = p.StartedAt
	c.Save(target)

	slog.Info("Pursuit started",
		logfields.ChaseID(p.ChaseID),
		logfields.GuardID(guardID),
		logfields.TargetID(targetID))
	return p.Clone(), nil
}

// EndPursuit terminates a chase with the given reason. The transition is
// one-way; the record stays in cache until the next sweep drops it from the
// active view.
func (c *Coordinator) EndPursuit(chaseID string, reason record.EndReason) error {
	c.pursuitMu.Lock()
	defer c.pursuitMu.Unlock()

	now := c.now()
	p, _, ok := c.pursuits.Get(chaseID, now)
	if !ok {
		return fmt.Errorf("no pursuit %s in cache", chaseID)
	}
	if !p.Active {
		return nil
	}

	cp := p.Clone()
	cp.End(reason)
	c.pursuits.Put(chaseID, cp, now)
	c.async("save_pursuit", func(ctx context.Context) error {
		return c.store.SavePursuit(ctx, cp)
	})

	c.clearChaseLinkage(cp.TargetID)

	slog.Info("Pursuit ended",
		logfields.ChaseID(chaseID),
		slog.String("reason", string(reason)))
	return nil
}

// expirePursuit terminates an overdue pursuit during the sweep.
func (c *Coordinator) expirePursuit(p *record.PursuitRecord) {
	cp := p.Clone()
	cp.End(record.EndReasonExpired)
	c.pursuits.Put(cp.ChaseID, cp, c.now())
	c.async("save_pursuit", func(ctx context.Context) error {
		return c.store.SavePursuit(ctx, cp)
	})
	c.clearChaseLinkage(cp.TargetID)
}

func (c *Coordinator) clearChaseLinkage(targetID string) {
	target := c.Get(targetID)
	if !target.BeingChased {
		return
	}
	target.BeingChased = false
	target.ChaserID = ""
	target.ChaseStartedAt = 0
	c.Save(target)
}

// findActive linearly scans the cached active set. Acceptable at expected
// cardinalities (tens of concurrent chases).
func (c *Coordinator) findActive(match func(*record.PursuitRecord) bool, now time.Time) *record.PursuitRecord {
	for _, p := range c.pursuits.Snapshot() {
		if p.Active && !p.ExpiredAt(now) && match(p) {
			return p
		}
	}
	return nil
}

// FindActiveByGuard returns the guard's active pursuit, nil if none.
func (c *Coordinator) FindActiveByGuard(guardID string) *record.PursuitRecord {
	p := c.findActive(func(p *record.PursuitRecord) bool { return p.GuardID == guardID }, c.now())
	if p == nil {
		return nil
	}
	return p.Clone()
}

// FindActiveByTarget returns the pursuit chasing the target, nil if none.
func (c *Coordinator) FindActiveByTarget(targetID string) *record.PursuitRecord {
	p := c.findActive(func(p *record.PursuitRecord) bool { return p.TargetID == targetID }, c.now())
	if p == nil {
		return nil
	}
	return p.Clone()
}

// ActivePursuits returns a snapshot of all currently active pursuits.
func (c *Coordinator) ActivePursuits() []*record.PursuitRecord {
	now := c.now()
	var out []*record.PursuitRecord
	for _, p := range c.pursuits.Snapshot() {
		if p.Active && !p.ExpiredAt(now) {
			out = append(out, p.Clone())
		}
	}
	return out
}
