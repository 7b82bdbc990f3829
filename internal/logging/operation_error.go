package logging

import "fmt"

// OperationError annotates an infrastructure error with the operation that
// produced it, the analysis request it belonged to and how many attempts were made.
type OperationError struct {
	Operation string
	RequestID string
	Attempts  int
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	msg := e.Operation
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request_id=%s)", msg, e.RequestID)
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps an error with structured context about where it occurred.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// NewRetriedOperationError is NewOperationError for loops that made several attempts.
func NewRetriedOperationError(operation, requestID string, attempts int, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Attempts: attempts, Err: err}
}
