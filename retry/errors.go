package retry

import (
	"errors"
	"fmt"
)

var (
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// RetriesExhaustedError is returned once an operation has failed its final
// attempt. It satisfies errors.Is(err, ErrRetriesExhausted) and unwraps to
// the last attempt's error.
type RetriesExhaustedError struct {
	OpName   string
	Attempts int
	Cause    error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %s",
		e.OpName, e.Attempts, e.Cause)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Cause
}

func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as fatal so the supervisor aborts immediately instead
// of retrying. Authentication failures and malformed requests belong here.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient marks err as retryable regardless of its underlying type. Store
// clients use this for server states that resolve on their own, like a member
// that is not primary yet.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err}
}

func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
