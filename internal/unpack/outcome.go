package unpack

import (
	"fmt"
)

// Status classifies the result of extracting one archive.
type Status int

const (
	Success Status = iota
	// IOFailure means the archive could not be read or an entry could not be written.
	IOFailure
	// FormatFailure means the archive structure is corrupt or unsupported.
	FormatFailure
	// PathFailure means an entry path could not be safely resolved inside the target directory.
	PathFailure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case IOFailure:
		return "io_failure"
	case FormatFailure:
		return "format_failure"
	case PathFailure:
		return "path_failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of Unpack. Extraction is not rolled back: after a
// failure the target directory may be partially populated.
type Outcome struct {
	Status  Status
	Archive string
	Target  string
	Entry   string // Offending entry name for PathFailure
	Err     error
}

func (o Outcome) OK() bool {
	return o.Status == Success
}

// AsError returns the failure as an *Error, or nil on success.
func (o Outcome) AsError() error {
	if o.OK() {
		return nil
	}

	return &Error{Outcome: o}
}

// Error wraps a failed Outcome.
type Error struct {
	Outcome Outcome
}

func (e *Error) Error() string {
	o := e.Outcome

	if o.Status == PathFailure {
		return fmt.Sprintf("failed to extract archive %s to %s, %s for entry %q: %v", o.Archive, o.Target, o.Status, o.Entry, o.Err)
	}

	return fmt.Sprintf("failed to extract archive %s to %s, %s: %v", o.Archive, o.Target, o.Status, o.Err)
}

func (e *Error) Unwrap() error {
	return e.Outcome.Err
}
