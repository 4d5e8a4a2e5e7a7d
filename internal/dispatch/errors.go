package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrBatchTooLarge = errors.New("dispatch: batch exceeds transport maximum")
	ErrEmptyType     = errors.New("dispatch: envelope type is empty")
)

// Permanent marks a handler error as not worth retrying.
// The message is dead-lettered on its first failure.
//
//	return dispatch.Permanent(fmt.Errorf("recipient rejected: %w", err))
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err is wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }
func (e permanentError) Unwrap() error { return e.err }
