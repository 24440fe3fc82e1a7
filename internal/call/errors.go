package call

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindChannel       ErrorKind = "channel"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindGeneration    ErrorKind = "generation"
	ErrorKindInvariant     ErrorKind = "invariant_violation"
	ErrorKindUnknown       ErrorKind = "unknown"
)

// Error is the classified error reported at the core boundary.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, call.ErrTimeout) works
// for any timeout regardless of operation or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrConfiguration = &Error{Kind: ErrorKindConfiguration}
	ErrChannel       = &Error{Kind: ErrorKindChannel}
	ErrTimeout       = &Error{Kind: ErrorKindTimeout}
	ErrGeneration    = &Error{Kind: ErrorKindGeneration}
	ErrInvariant     = &Error{Kind: ErrorKindInvariant}
)

var ErrNotFound = errors.New("not found")

func NewConfigurationError(op string, err error) error {
	return &Error{Kind: ErrorKindConfiguration, Op: op, Err: err}
}

func NewChannelError(op string, err error) error {
	return &Error{Kind: ErrorKindChannel, Op: op, Err: err}
}

func NewTimeoutError(op string, err error) error {
	return &Error{Kind: ErrorKindTimeout, Op: op, Err: err}
}

func NewGenerationError(op string, err error) error {
	return &Error{Kind: ErrorKindGeneration, Op: op, Err: err}
}

func NewInvariantViolation(op string, err error) error {
	return &Error{Kind: ErrorKindInvariant, Op: op, Err: err}
}

// KindOf returns the taxonomy kind of the outermost classified error in the chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrorKindUnknown
}
