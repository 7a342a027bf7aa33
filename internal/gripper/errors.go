package gripper

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConnection
	KindRuntime
	KindTimeout
	KindFault
	KindFormat
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConnection:
		return "connection"
	case KindRuntime:
		return "runtime"
	case KindTimeout:
		return "timeout"
	case KindFault:
		return "fault"
	case KindFormat:
		return "format"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "move", "connect"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.String() + " error"
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrTimeout) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrConnection = &Error{Kind: KindConnection}
	ErrRuntime    = &Error{Kind: KindRuntime}
	ErrTimeout    = &Error{Kind: KindTimeout}
	ErrFault      = &Error{Kind: KindFault}
	ErrFormat     = &Error{Kind: KindFormat}
)

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func validationf(op, format string, args ...any) error {
	return newError(KindValidation, op, nil, format, args...)
}

func connectionf(op string, err error, format string, args ...any) error {
	return newError(KindConnection, op, err, format, args...)
}

func runtimef(op string, err error, format string, args ...any) error {
	return newError(KindRuntime, op, err, format, args...)
}

func formatf(op, format string, args ...any) error {
	return newError(KindFormat, op, nil, format, args...)
}
