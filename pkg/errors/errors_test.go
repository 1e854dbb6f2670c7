package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataFor(t *testing.T) {
	meta := MetadataFor(CodeConflict)
	if meta.HTTPStatus != http.StatusConflict {
		t.Fatalf("conflict status = %d", meta.HTTPStatus)
	}
	if !meta.Retryable {
		t.Fatal("conflicting writes should be retryable after re-fetch")
	}

	meta = MetadataFor(CodeInvalidTransition)
	if meta.Retryable {
		t.Fatal("invalid transitions must not be flagged retryable")
	}

	meta = MetadataFor(Code("BOGUS"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("unknown code should map to internal, got %d", meta.HTTPStatus)
	}
}

func TestWrapAndAs(t *testing.T) {
	cause := stdErrors.New("boom")
	err := Wrap(CodeDependency, cause, "gateway call")

	wrapped := fmt.Errorf("outer: %w", err)
	typed := As(wrapped)
	if typed == nil {
		t.Fatal("expected typed error in chain")
	}
	if typed.Code() != CodeDependency {
		t.Fatalf("code = %s", typed.Code())
	}
	if !stdErrors.Is(wrapped, cause) {
		t.Fatal("cause should remain reachable via Unwrap")
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodeDisputeFrozen, "job frozen")
	if !IsCode(err, CodeDisputeFrozen) {
		t.Fatal("IsCode should match")
	}
	if IsCode(err, CodeConflict) {
		t.Fatal("IsCode should not match a different code")
	}
	if IsCode(stdErrors.New("plain"), CodeConflict) {
		t.Fatal("plain errors carry no code")
	}
}
