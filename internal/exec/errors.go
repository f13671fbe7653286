package exec

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// KindTransient errors are retried with backoff.
	KindTransient ErrorKind = iota
	// KindFatal errors abort immediately.
	KindFatal
	// KindPartialFill marks a saga that left (or may have left) the book
	// one-sided; the caller must reconcile before trading on.
	KindPartialFill
)

type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTransient:
		return "transient error: " + e.Msg
	case KindFatal:
		return "fatal error: " + e.Msg
	case KindPartialFill:
		return "partial fill: " + e.Msg
	default:
		return e.Msg
	}
}

func Transientf(format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Msg: fmt.Sprintf(format, args...)}
}

func Fatalf(format string, args ...any) *Error {
	return &Error{Kind: KindFatal, Msg: fmt.Sprintf(format, args...)}
}

func PartialFillf(format string, args ...any) *Error {
	return &Error{Kind: KindPartialFill, Msg: fmt.Sprintf(format, args...)}
}

func kindOf(err error) (ErrorKind, bool) {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Kind, true
	}
	return 0, false
}

func IsTransient(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindTransient
}

func IsPartialFill(err error) bool {
	kind, ok := kindOf(err)
	return ok && kind == KindPartialFill
}
