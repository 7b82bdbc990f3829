package logging

import (
	"context"
	"errors"
	"testing"
)

func TestOperationErrorMessage(t *testing.T) {
	base := errors.New("connection refused")

	cases := []struct {
		name string
		err  error
		want string
	}{
		{"plain", NewOperationError("cache.get", "", base), "cache.get: connection refused"},
		{"request", NewOperationError("cache.get", "req-1", base), "cache.get (request_id=req-1): connection refused"},
		{"retried", NewRetriedOperationError("repository.save", "req-2", 3, base), "repository.save (request_id=req-2) after 3 attempts: connection refused"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
			if !errors.Is(tc.err, base) {
				t.Fatal("expected wrapped error to unwrap to base")
			}
		})
	}
}

func TestNewOperationErrorNil(t *testing.T) {
	if err := NewOperationError("noop", "", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	if !IsTransient(timeoutError{}) {
		t.Fatal("expected timeout to be transient")
	}
	if !IsTransient(NewOperationError("op", "", context.DeadlineExceeded)) {
		t.Fatal("expected wrapped deadline to be transient")
	}
	if IsTransient(errors.New("boom")) || IsTransient(nil) {
		t.Fatal("expected plain errors to be permanent")
	}
}
