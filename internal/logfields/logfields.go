package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyActorID    = "actor_id"
	KeyActorName  = "actor_name"
	KeyChaseID    = "chase_id"
	KeyGuardID    = "guard_id"
	KeyTargetID   = "target_id"
	KeyBackend    = "backend"
	KeyDomain     = "domain"
	KeyOp         = "op"
	KeyDurationMS = "duration_ms"
	KeyCount      = "count"
	KeyPath       = "path"
	KeySubject    = "subject"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func ActorID(id string) slog.Attr     { return slog.String(KeyActorID, id) }
func ActorName(n string) slog.Attr    { return slog.String(KeyActorName, n) }
func ChaseID(id string) slog.Attr     { return slog.String(KeyChaseID, id) }
func GuardID(id string) slog.Attr     { return slog.String(KeyGuardID, id) }
func TargetID(id string) slog.Attr    { return slog.String(KeyTargetID, id) }
func Backend(b string) slog.Attr      { return slog.String(KeyBackend, b) }
func Domain(d string) slog.Attr       { return slog.String(KeyDomain, d) }
func Op(op string) slog.Attr          { return slog.String(KeyOp, op) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Subject(s string) slog.Attr      { return slog.String(KeySubject, s) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
