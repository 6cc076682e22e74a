package logfields

import (
	"errors"
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"ActorID", KeyActorID, "a1", ActorID("a1")},
		{"ActorName", KeyActorName, "Alice", ActorName("Alice")},
		{"ChaseID", KeyChaseID, "c1", ChaseID("c1")},
		{"GuardID", KeyGuardID, "g1", GuardID("g1")},
		{"TargetID", KeyTargetID, "t1", TargetID("t1")},
		{"Backend", KeyBackend, "sqlite", Backend("sqlite")},
		{"Domain", KeyDomain, "sessions", Domain("sessions")},
		{"Op", KeyOp, "save_session", Op("save_session")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"Subject", KeySubject, "ward.session.start", Subject("ward.session.start")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

func TestErrorAttr(t *testing.T) {
	a := Error(errors.New("boom"))
	if a.Key != KeyError || a.Value.String() != "boom" {
		t.Fatalf("unexpected error attr: %v", a)
	}
	if Error(nil).Value.String() != "" {
		t.Fatalf("nil error should render empty")
	}
}
