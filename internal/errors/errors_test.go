package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestHasCodeWalksNestedTypedErrors(t *testing.T) {
	inner := New(CodeNotFound, "contract not found")
	outer := Wrap(CodeUnavailable, "query failed", fmt.Errorf("rpc: %w", inner))
	if !IsNotFound(outer) {
		t.Fatal("expected nested not-found code to be visible")
	}
	if !HasCode(outer, CodeUnavailable) {
		t.Fatal("expected outer code to be visible")
	}
	if IsUnsupported(outer) {
		t.Fatal("did not expect unsupported code")
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("expected 0 for nil error, got %d", got)
	}
	if got := ExitCode(UnsupportedChain("foo-1")); got != int(CodeUnsupportedChain) {
		t.Fatalf("unexpected exit code %d", got)
	}
	if got := ExitCode(errors.New("plain")); got != int(CodeInternal) {
		t.Fatalf("expected internal exit code for untyped error, got %d", got)
	}
}
