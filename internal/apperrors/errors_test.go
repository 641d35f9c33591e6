package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		sentinel error
		status   int
	}{
		{"invalid config", InvalidConfig("id", "job ID is required"), ErrInvalidConfig, http.StatusBadRequest},
		{"not found", NotFound("job", "job-9"), ErrNotFound, http.StatusNotFound},
		{"conflict", Conflict("job", "job-1", "job already terminal"), ErrConflict, http.StatusConflict},
		{"internal", Internal("snapshot.save", errors.New("disk full")), ErrInternal, http.StatusInternalServerError},
		{"plain error", errors.New("anything"), nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.sentinel != nil && !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			if got := HTTPStatus(tt.err); got != tt.status {
				t.Errorf("HTTPStatus = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestWrappedClassification(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("submit: %w", InvalidConfig("training.epochs", "epochs out of range"))
	if !errors.Is(wrapped, ErrInvalidConfig) {
		t.Error("wrapped validation error lost its sentinel")
	}
	if HTTPStatus(wrapped) != http.StatusBadRequest {
		t.Error("wrapped validation error should map to 400")
	}
}

func TestMessage(t *testing.T) {
	t.Parallel()

	err := NotFound("job", "job-42")
	if err.Error() != "job job-42 not found" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	var structured *Error
	if !errors.As(err, &structured) {
		t.Fatal("expected *Error")
	}
	if structured.Resource != "job" {
		t.Errorf("resource = %q", structured.Resource)
	}
}
