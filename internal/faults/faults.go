package faults

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable error category returned to callers. Everything
// the engine refuses to do maps onto exactly one of these.
type Kind string

const (
	KindNotFound               Kind = "not_found"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindAmbulanceUnavailable   Kind = "ambulance_unavailable"
	KindForbidden              Kind = "forbidden"
	KindConflict               Kind = "conflict"
	KindInvalidInput           Kind = "invalid_input"
)

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Msg }

// Is lets errors.Is match any fault of the same kind, so callers can compare
// against the bare kind sentinels below without caring about the message.
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return fe.Kind == e.Kind && (fe.Msg == "" || fe.Msg == e.Msg)
	}
	return false
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func InvalidStateTransition(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidStateTransition, Msg: fmt.Sprintf(format, args...)}
}

func AmbulanceUnavailable(format string, args ...any) *Error {
	return &Error{Kind: KindAmbulanceUnavailable, Msg: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the fault kind, or "" for errors the engine did not classify.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func IsKind(err error, k Kind) bool { return KindOf(err) == k }
