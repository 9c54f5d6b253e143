package embedding

import (
	"context"
	"errors"
	"fmt"
)

// TransientError marks a failure worth retrying: network, timeout, rate limit, 5xx.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient embedding error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that will not go away on retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent embedding error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// classify maps a provider error onto the taxonomy. Already classified errors
// pass through, timeouts are transient, caller cancellation is left alone and
// anything unknown is treated as transient.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case IsTransient(err), IsPermanent(err):
		return err
	case errors.Is(err, context.Canceled):
		return err
	default:
		return Transient(err)
	}
}

// HTTPStatusError classifies an HTTP status returned by a provider.
func HTTPStatusError(status int, err error) error {
	switch {
	case status == 429 || status == 408 || status >= 500:
		return Transient(err)
	case status >= 400:
		return Permanent(err)
	default:
		return Transient(err)
	}
}
