// Package record defines the per-actor state entities held in cache and
// persisted by the store. Entities are plain data with derived predicates;
// all time-based truth (wanted expiry, duty duration) is computed lazily from
// stored timestamps, never flipped by timers.
package record

import "time"

// SessionRecord is the per-actor durable-plus-ephemeral state entity.
// Timestamps are unix milliseconds; zero means unset.
type SessionRecord struct {
	ActorID string
	Name    string

	// Duty
	OnDuty        bool
	DutyStartedAt int64
	OffDutySince  int64
	TotalDutyTime int64 // accumulated, milliseconds

	// Off-duty time bank, milliseconds
	OffDutyEarned   int64
	OffDutyConsumed int64
	GraceDebt       int64
	BaseTimeEarned  bool
	ExpiryNotified  bool

	// Wanted
	WantedLevel  int
	WantedExpiry int64
	WantedReason string

	// Pursuit linkage
	BeingChased    bool
	ChaserID       string
	ChaseStartedAt int64

	// Penalty escalation; PenaltyStart == 0 means inactive
	PenaltyStart   int64
	PenaltyStage   int
	LastPenaltyAt  int64
	LastSlownessAt int64
	PenaltyMarker  bool

	// Session counters, reset on each login, never persisted
	Searches   int
	SearchHits int
	Arrests    int
	Kills      int
	Detections int

	// Durable counters
	TotalArrests    int
	TotalViolations int
	TotalKills      int

	GuardRank *string
}

// NewSession returns a session record with cold defaults for an actor seen
// for the first time.
func NewSession(actorID, name string) *SessionRecord {
	return &SessionRecord{ActorID: actorID, Name: name}
}

// IsWantedAt reports whether the actor is wanted at the given instant. This is
// the source of truth for wanted state: a pure comparison of the stored level
// and expiry against now. The periodic sweep clears expired levels for
// hygiene only; correctness never depends on it running.
func (r *SessionRecord) IsWantedAt(now time.Time) bool {
	return r.WantedLevel > 0 && now.UnixMilli() < r.WantedExpiry
}

// IsWanted is IsWantedAt against the wall clock.
func (r *SessionRecord) IsWanted() bool { return r.IsWantedAt(time.Now()) }

// SetWanted sets the wanted level with an expiry, upholding the invariant
// that a positive level always carries a positive expiry.
func (r *SessionRecord) SetWanted(level int, d time.Duration, reason string, now time.Time) {
	if level <= 0 {
		r.ClearWanted()
		return
	}
	r.WantedLevel = level
	r.WantedExpiry = now.Add(d).UnixMilli()
	r.WantedReason = reason
}

// ClearWanted resets the wanted state to not-wanted.
func (r *SessionRecord) ClearWanted() {
	r.WantedLevel = 0
	r.WantedExpiry = 0
	r.WantedReason = ""
}

// PenaltyActive reports whether penalty escalation is running.
func (r *SessionRecord) PenaltyActive() bool { return r.PenaltyStart > 0 }

// OnDutyDurationAt returns how long the actor has been on duty as of now,
// zero when off duty.
func (r *SessionRecord) OnDutyDurationAt(now time.Time) time.Duration {
	if !r.OnDuty || r.DutyStartedAt == 0 {
		return 0
	}
	d := now.UnixMilli() - r.DutyStartedAt
	if d < 0 {
		return 0
	}
	return time.Duration(d) * time.Millisecond
}

// AvailableByElapsed computes remaining off-duty time as earned minus the
// wall-clock elapsed since going off duty.
//
// AvailableByElapsed and AvailableByLedger intentionally coexist: different
// call sites historically used different formulas and they can diverge.
// Callers pick one explicitly; nothing unifies them.
func (r *SessionRecord) AvailableByElapsed(now time.Time) int64 {
	if r.OffDutySince == 0 {
		return r.OffDutyEarned
	}
	elapsed := now.UnixMilli() - r.OffDutySince
	if elapsed < 0 {
		elapsed = 0
	}
	return r.OffDutyEarned - elapsed
}

// AvailableByLedger computes remaining off-duty time as earned minus consumed.
func (r *SessionRecord) AvailableByLedger() int64 {
	return r.OffDutyEarned - r.OffDutyConsumed
}

// ResetSessionCounters zeroes the per-login counters. Durable counters are
// untouched.
func (r *SessionRecord) ResetSessionCounters() {
	r.Searches = 0
	r.SearchHits = 0
	r.Arrests = 0
	r.Kills = 0
	r.Detections = 0
}

// Clone returns a deep copy. The coordinator hands out and accepts copies so
// concurrent callers never share a mutable record.
func (r *SessionRecord) Clone() *SessionRecord {
	c := *r
	if r.GuardRank != nil {
		rank := *r.GuardRank
		c.GuardRank = &rank
	}
	return &c
}
