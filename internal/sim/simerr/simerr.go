// Package simerr is the error taxonomy shared by the simulation core.
//
// Protocol and determinism errors halt a session. Config errors go back to
// whoever loaded the document. Integrity errors are surfaced to the host
// distinctly and never repaired in place.
package simerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindProtocol Kind = iota + 1
	KindConfig
	KindIntegrity
	KindDeterminism
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindConfig:
		return "config"
	case KindIntegrity:
		return "integrity"
	case KindDeterminism:
		return "determinism"
	default:
		return "unknown"
	}
}

// Code is the stable wire code for the kind, used as a prefix of fatal reasons.
func (k Kind) Code() string {
	switch k {
	case KindProtocol:
		return "E_PROTOCOL"
	case KindConfig:
		return "E_CONFIG"
	case KindIntegrity:
		return "E_INTEGRITY"
	case KindDeterminism:
		return "E_DETERMINISM"
	default:
		return "E_INTERNAL"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotFound is returned by stores when a profile has no saved state.
var ErrNotFound = errors.New("not found")

func newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Protocolf(op, format string, args ...any) error { return newf(KindProtocol, op, format, args...) }
func Configf(op, format string, args ...any) error   { return newf(KindConfig, op, format, args...) }
func Integrityf(op, format string, args ...any) error {
	return newf(KindIntegrity, op, format, args...)
}
func Determinismf(op, format string, args ...any) error {
	return newf(KindDeterminism, op, format, args...)
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// Reason renders err as "<CODE>: <message>" for fatal and integrityError messages.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.Code() + ": " + err.Error()
	}
	return "E_INTERNAL: " + err.Error()
}
