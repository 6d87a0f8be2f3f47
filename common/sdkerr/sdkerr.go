// Package sdkerr defines the error taxonomy shared by every layer of the SDK.
//
// A Kind is itself an error, so callers can test for a category anywhere in a
// wrapped chain with errors.Is(err, sdkerr.UserCancelled).
package sdkerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

// Kind constants.
const (
	KeyGenFailed           Kind = "KeyGenFailed"
	KeyNotFound            Kind = "KeyNotFound"
	SignFailed             Kind = "SignFailed"
	UserCancelled          Kind = "UserCancelled"
	BiometricUnavailable   Kind = "BiometricUnavailable"
	DocumentNotFound       Kind = "DocumentNotFound"
	ProofGenerationFailed  Kind = "ProofGenerationFailed"
	CanonicalizationFailed Kind = "CanonicalizationFailed"
	PersistenceFailed      Kind = "PersistenceFailed"
	InvalidArgument        Kind = "InvalidArgument"
)

// Error implements error.
func (k Kind) Error() string {
	return string(k)
}

// Error is a failure tagged with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)

	return ok && k == e.Kind
}

// New returns an Error of the given kind with a formatted detail message.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Op: op, Err: err}
}

// Ensure tags err with kind unless err already carries a Kind, in which case it
// is returned unchanged.
func Ensure(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}

	return Wrap(kind, op, err)
}

// KindOf returns the outermost Kind found in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Kind
		case Kind:
			return e
		}
		err = errors.Unwrap(err)
	}

	return ""
}
