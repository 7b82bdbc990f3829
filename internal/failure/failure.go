// Package failure defines the error kinds an analysis submission can end in
// and the single human-readable message each kind is shown as.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a submission failure.
type Kind string

const (
	Validation         Kind = "ValidationError"
	Network            Kind = "NetworkError"
	HTTP               Kind = "HttpError"
	ServiceUnavailable Kind = "ServiceUnavailable"
	Parse              Kind = "ParseError"
	MalformedResponse  Kind = "MalformedResponse"
	Capture            Kind = "CaptureError"
	Unknown            Kind = "Unknown"
)

// Error is a classified failure. Message is safe to show to a user.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New returns a classified failure without an underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns a classified failure around err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage maps any error to the short message shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case Validation:
		var fe *Error
		if errors.As(err, &fe) && fe.Message != "" {
			return fe.Message
		}
		return "Please select a file."
	case Network:
		return "Could not reach the analysis service. Check your connection and try again."
	case ServiceUnavailable:
		return "The analysis service is busy. Please try again shortly."
	case HTTP:
		var fe *Error
		if errors.As(err, &fe) && fe.Message != "" {
			return "The analysis service rejected the request (" + fe.Message + ")."
		}
		return "The analysis service rejected the request."
	case Parse, MalformedResponse:
		return "The analysis service returned an unexpected response."
	case Capture:
		return "Couldn't capture screenshot."
	default:
		return "Failed to process audio."
	}
}
