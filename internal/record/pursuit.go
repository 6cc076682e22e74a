package record

import "time"

// EndReason enumerates the terminal states of a pursuit.
type EndReason string

const (
	EndReasonEnded    EndReason = "ended"
	EndReasonCaptured EndReason = "captured"
	EndReasonExpired  EndReason = "expired"
)

// PursuitRecord represents one chase pairing a guard and a target. A pursuit
// is ACTIVE from start until an explicit End; every exit is one-way and
// terminal. Timestamps are unix milliseconds.
type PursuitRecord struct {
	ChaseID   string
	GuardID   string
	TargetID  string
	StartedAt int64
	Expiry    int64
	Active    bool
	EndReason EndReason // empty while active
}

// NewPursuit creates an active pursuit starting at now and expiring after d.
func NewPursuit(chaseID, guardID, targetID string, d time.Duration, now time.Time) *PursuitRecord {
	return &PursuitRecord{
		ChaseID:   chaseID,
		GuardID:   guardID,
		TargetID:  targetID,
		StartedAt: now.UnixMilli(),
		Expiry:    now.Add(d).UnixMilli(),
		Active:    true,
	}
}

// ExpiredAt reports whether the pursuit's expiry has passed. Like wanted
// state this is lazy; an expired pursuit stays Active until ended or swept.
func (p *PursuitRecord) ExpiredAt(now time.Time) bool {
	return p.Expiry > 0 && now.UnixMilli() >= p.Expiry
}

// End flips the pursuit inactive with the given reason. Ending an already
// terminated pursuit is a no-op; the first reason wins.
func (p *PursuitRecord) End(reason EndReason) {
	if !p.Active {
		return
	}
	p.Active = false
	p.EndReason = reason
}

// Clone returns a copy of the pursuit record.
func (p *PursuitRecord) Clone() *PursuitRecord {
	c := *p
	return &c
}
