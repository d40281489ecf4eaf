package workchain

import (
	"errors"
	"fmt"
)

// AbortError terminates a workchain. Reason is one of the domain abort
// sentinels; Message is the human-readable explanation stored with the
// workchain.
type AbortError struct {
	Reason  error
	Message string
	// Attempt is the 1-based index of the attempt that caused the abort,
	// zero when the workchain aborted before launching anything.
	Attempt int
}

func abort(reason error, attempt int, format string, args ...any) *AbortError {
	return &AbortError{Reason: reason, Attempt: attempt, Message: fmt.Sprintf(format, args...)}
}

func (e *AbortError) Error() string {
	if e.Message == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%v: %s", e.Reason, e.Message)
}

func (e *AbortError) Unwrap() error { return e.Reason }

// IsAbort reports whether err carries an AbortError.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}
