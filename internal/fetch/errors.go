package fetch

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by Fetcher wraps exactly one of them.
var (
	ErrMissingLength    = errors.New("response has no content length")
	ErrRequestFailed    = errors.New("request failed")
	ErrStreamFailed     = errors.New("stream interrupted")
	ErrFileCreateFailed = errors.New("failed to create destination file")
	ErrWriteFailed      = errors.New("failed to write destination file")
	ErrUnexpectedStatus = errors.New("unexpected server response")
)

// Error describes a failed retrieval of one item.
type Error struct {
	Kind       error  // One of the Err* kinds above
	Op         string // "head", "get" or "get_range"
	URL        string
	Path       string // Destination file
	StatusCode int    // HTTP status code, if applicable (0 otherwise)
	Err        error  // Underlying error, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Kind)

	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}
