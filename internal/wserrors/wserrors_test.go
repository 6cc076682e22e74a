package wserrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifiedErrorFormat(t *testing.T) {
	e := New(CategoryStore, SeverityError, "save failed")
	want := "[store:error] save failed"
	if e.Error() != want {
		t.Fatalf("expected %q, got %q", want, e.Error())
	}

	cause := errors.New("connection refused")
	w := Wrap(CategoryStore, SeverityFatal, "store unreachable", cause)
	if !errors.Is(w, cause) {
		t.Fatal("wrapped cause not reachable via errors.Is")
	}
}

func TestIsFatal(t *testing.T) {
	fatal := Wrap(CategoryStore, SeverityFatal, "boot ping", errors.New("refused"))
	if !IsFatal(fatal) {
		t.Fatal("expected fatal")
	}
	if !IsFatal(fmt.Errorf("initialize: %w", fatal)) {
		t.Fatal("expected fatal through wrapping")
	}
	if IsFatal(New(CategoryStore, SeverityError, "save failed")) {
		t.Fatal("plain severity must not be fatal")
	}
	if IsFatal(errors.New("plain")) {
		t.Fatal("plain error must not be fatal")
	}
}
