package errors

import (
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrEmptyContent, "document content cannot be empty")
	want := "[EMPTY_CONTENT] document content cannot be empty"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrap_preservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrPersistenceFailure, "failed to save document", cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap should return the original cause")
	}
	if got := err.Error(); got != "[PERSISTENCE_FAILURE] failed to save document: connection refused" {
		t.Errorf("Error() = %q", got)
	}
}

func TestIs(t *testing.T) {
	err := New(ErrSessionClosed, "closed")
	if !Is(err, ErrSessionClosed) {
		t.Error("Is should match the error's own code")
	}
	if Is(err, ErrSessionAlreadyOpen) {
		t.Error("Is should not match a different code")
	}
	if Is(fmt.Errorf("plain"), ErrInternal) {
		t.Error("Is should not match plain errors")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(ErrDocumentNotFound, "missing")); got != ErrDocumentNotFound {
		t.Errorf("CodeOf = %q, want DOCUMENT_NOT_FOUND", got)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != ErrInternal {
		t.Errorf("CodeOf of a plain error = %q, want INTERNAL_ERROR", got)
	}
}
