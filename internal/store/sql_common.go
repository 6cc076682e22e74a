package store

import (
	"database/sql"
	"strings"

	"github.com/wardenlabs/wardstate/internal/record"
)

// sessionColumnNames is the canonical column order shared by both SQL
// backends. Session-scoped counters reset on every login and are deliberately
// not persisted.
var sessionColumnNames = []string{
	"actor_id", "name", "on_duty", "duty_started_at", "off_duty_since", "total_duty_time",
	"off_duty_earned", "off_duty_consumed", "grace_debt", "base_time_earned", "expiry_notified",
	"wanted_level", "wanted_expiry", "wanted_reason",
	"being_chased", "chaser_id", "chase_started_at",
	"penalty_start", "penalty_stage", "last_penalty_at", "last_slowness_at", "penalty_marker",
	"total_arrests", "total_violations", "total_kills", "guard_rank",
}

var sessionColumns = strings.Join(sessionColumnNames, ", ")

var sessionColumnCount = len(sessionColumnNames)

func sessionArgs(r *record.SessionRecord) []any {
	var rank sql.NullString
	if r.GuardRank != nil {
		rank = sql.NullString{String: *r.GuardRank, Valid: true}
	}
	return []any{
		r.ActorID, r.Name, r.OnDuty, r.DutyStartedAt, r.OffDutySince, r.TotalDutyTime,
		r.OffDutyEarned, r.OffDutyConsumed, r.GraceDebt, r.BaseTimeEarned, r.ExpiryNotified,
		r.WantedLevel, r.WantedExpiry, r.WantedReason,
		r.BeingChased, r.ChaserID, r.ChaseStartedAt,
		r.PenaltyStart, r.PenaltyStage, r.LastPenaltyAt, r.LastSlownessAt, r.PenaltyMarker,
		r.TotalArrests, r.TotalViolations, r.TotalKills, rank,
	}
}

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx rows alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(sc rowScanner) (*record.SessionRecord, error) {
	var r record.SessionRecord
	var rank sql.NullString
	err := sc.Scan(
		&r.ActorID, &r.Name, &r.OnDuty, &r.DutyStartedAt, &r.OffDutySince, &r.TotalDutyTime,
		&r.OffDutyEarned, &r.OffDutyConsumed, &r.GraceDebt, &r.BaseTimeEarned, &r.ExpiryNotified,
		&r.WantedLevel, &r.WantedExpiry, &r.WantedReason,
		&r.BeingChased, &r.ChaserID, &r.ChaseStartedAt,
		&r.PenaltyStart, &r.PenaltyStage, &r.LastPenaltyAt, &r.LastSlownessAt, &r.PenaltyMarker,
		&r.TotalArrests, &r.TotalViolations, &r.TotalKills, &rank,
	)
	if err != nil {
		return nil, err
	}
	if rank.Valid {
		r.GuardRank = &rank.String
	}
	return &r, nil
}

const pursuitColumns = `chase_id, guard_id, target_id, started_at, expiry, active, end_reason`

func pursuitArgs(p *record.PursuitRecord) []any {
	return []any{p.ChaseID, p.GuardID, p.TargetID, p.StartedAt, p.Expiry, p.Active, string(p.EndReason)}
}

func scanPursuit(sc rowScanner) (*record.PursuitRecord, error) {
	var p record.PursuitRecord
	var reason string
	err := sc.Scan(&p.ChaseID, &p.GuardID, &p.TargetID, &p.StartedAt, &p.Expiry, &p.Active, &reason)
	if err != nil {
		return nil, err
	}
	p.EndReason = record.EndReason(reason)
	return &p, nil
}
