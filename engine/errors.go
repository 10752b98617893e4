package engine

import (
	"errors"
	"fmt"

	"github.com/citadel-wallet/keysync/model/kel"
)

// TimeoutError indicates that a remote party did not answer within its budget.
// It is recovered by the component that observed it.
type TimeoutError struct {
	err error
}

func NewTimeoutErrorf(msg string, args ...interface{}) error {
	return TimeoutError{fmt.Errorf(msg, args...)}
}

func (e TimeoutError) Error() string { return e.err.Error() }
func (e TimeoutError) Unwrap() error { return e.err }

// IsTimeoutError returns whether err is a TimeoutError
func IsTimeoutError(err error) bool {
	var e TimeoutError
	return errors.As(err, &e)
}

// MismatchError indicates that an operator-entered or re-queried value does not
// match the expected one. Nothing was mutated.
type MismatchError struct {
	err error
}

func NewMismatchErrorf(msg string, args ...interface{}) error {
	return MismatchError{fmt.Errorf(msg, args...)}
}

func (e MismatchError) Error() string { return e.err.Error() }
func (e MismatchError) Unwrap() error { return e.err }

// IsMismatchError returns whether err is a MismatchError
func IsMismatchError(err error) bool {
	var e MismatchError
	return errors.As(err, &e)
}

// DuplicityError indicates that witnesses disagree about an identifier's key
// event log. It is never resolved automatically.
type DuplicityError struct {
	Prefix kel.Prefix
	err    error
}

func NewDuplicityErrorf(prefix kel.Prefix, msg string, args ...interface{}) error {
	return DuplicityError{Prefix: prefix, err: fmt.Errorf(msg, args...)}
}

func (e DuplicityError) Error() string {
	return fmt.Sprintf("duplicity detected for %s: %s", e.Prefix, e.err.Error())
}
func (e DuplicityError) Unwrap() error { return e.err }

// IsDuplicityError returns whether err is a DuplicityError
func IsDuplicityError(err error) bool {
	var e DuplicityError
	return errors.As(err, &e)
}

// ValidationError indicates that an operation was rejected before any network
// side effect took place.
type ValidationError struct {
	err error
}

func NewValidationError(err error) error {
	return ValidationError{err}
}

func NewValidationErrorf(msg string, args ...interface{}) error {
	return ValidationError{fmt.Errorf(msg, args...)}
}

func (e ValidationError) Error() string { return e.err.Error() }
func (e ValidationError) Unwrap() error { return e.err }

// IsValidationError returns whether err is a ValidationError
func IsValidationError(err error) bool {
	var e ValidationError
	return errors.As(err, &e)
}

// AuthenticationError indicates that the identity store could not be unlocked.
type AuthenticationError struct {
	err error
}

func NewAuthenticationErrorf(msg string, args ...interface{}) error {
	return AuthenticationError{fmt.Errorf(msg, args...)}
}

func (e AuthenticationError) Error() string { return e.err.Error() }
func (e AuthenticationError) Unwrap() error { return e.err }

// IsAuthenticationError returns whether err is an AuthenticationError
func IsAuthenticationError(err error) bool {
	var e AuthenticationError
	return errors.As(err, &e)
}

// OperationInProgressError is returned when a group operation is requested for
// an identifier that already has one in flight.
type OperationInProgressError struct {
	Prefix    kel.Prefix
	Operation kel.OperationID
}

func (e OperationInProgressError) Error() string {
	return fmt.Sprintf("group operation %s already in progress for %s", e.Operation, e.Prefix)
}

// IsOperationInProgressError returns whether err is an OperationInProgressError
func IsOperationInProgressError(err error) bool {
	var e OperationInProgressError
	return errors.As(err, &e)
}
