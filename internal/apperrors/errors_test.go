package apperrors

import (
	"errors"
	"testing"
)

func TestIsAndKindOf(t *testing.T) {
	err := New(NotFound, "device 7 not found")
	if !Is(err, NotFound) {
		t.Fatal("expected Is(err, NotFound) to be true")
	}
	if Is(err, BadRequest) {
		t.Fatal("expected Is(err, BadRequest) to be false")
	}
	if KindOf(err) != NotFound {
		t.Fatalf("KindOf() = %v, want %v", KindOf(err), NotFound)
	}
}

func TestKindOf_UnwrappedError(t *testing.T) {
	if KindOf(errors.New("boom")) != Internal {
		t.Fatal("expected an unrecognised error to classify as Internal")
	}
}

func TestWrap_Unwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Timeout, cause, "probing device")

	if !errors.Is(err, cause) {
		t.Fatal("expected Wrap to preserve Unwrap() chain")
	}
	if KindOf(err) != Timeout {
		t.Fatalf("KindOf() = %v, want %v", KindOf(err), Timeout)
	}
}
