package bfq

import "github.com/pkg/errors"

// unrecoverableError marks a failure that the dispatch controller cannot
// retry its way out of (a device collaborator returning a fatal error,
// or an internal invariant violation). Callers should stop driving the
// engine rather than keep calling Dispatch/Complete.
type unrecoverableError struct {
	cause error
}

func (e *unrecoverableError) Error() string { return "bfq: unrecoverable: " + e.cause.Error() }
func (e *unrecoverableError) Cause() error  { return e.cause }
func (e *unrecoverableError) Unwrap() error { return e.cause }

// wrapUnrecoverable tags err as unrecoverable, annotating it with msg via
// pkg/errors so the original stack trace context is preserved.
func wrapUnrecoverable(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{cause: errors.Wrap(err, msg)}
}

// IsUnrecoverable reports whether err (or anything it wraps) was raised
// through wrapUnrecoverable.
func IsUnrecoverable(err error) bool {
	for err != nil {
		if _, ok := err.(*unrecoverableError); ok {
			return true
		}
		cause, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = cause.Unwrap()
	}
	return false
}

var (
	errSimulatedFailure = errors.New("bfq: simulated device failure")
	errAlreadyDispatch  = errors.New("bfq: request not in flight (unknown or already completed)")
)
