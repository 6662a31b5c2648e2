package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for control flow and status mapping.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidValue means a raw value could not be classified into any
	// supported IOC type. Never retried.
	KindInvalidValue
	// KindNotFound means the operation targeted a missing record.
	KindNotFound
	// KindConflict is a unique-constraint or optimistic-lock race. Recovered
	// locally by re-running the merge path; must not escape to callers.
	KindConflict
	// KindProvider is an enrichment provider failure (timeout, malformed
	// payload, auth). Recorded per provider, never fatal for a run.
	KindProvider
	// KindUnavailable means the persistence layer could not serve the
	// operation at all.
	KindUnavailable
)

// Error carries a message, structured values and an error kind. Same usage
// as errors.Wrap(err, "msg").With("key", value).
type Error struct {
	msg    string
	cause  error
	kind   Kind
	Values map[string]interface{}
}

func newError(msg string) *Error {
	return &Error{
		msg:    msg,
		Values: make(map[string]interface{}),
	}
}

// New creates a new Error with stack trace
func New(msg string) *Error {
	err := newError(msg)
	err.cause = errors.New(msg)
	return err
}

// Wrap creates a new Error with caused error
func Wrap(cause error, msg string) *Error {
	err := newError(msg)
	err.cause = errors.WithStack(cause)
	return err
}

// With adds a structured value to the error. Returns the error itself for
// chaining.
func (x *Error) With(key string, value interface{}) *Error {
	x.Values[key] = value
	return x
}

// Kind sets the error kind. Returns the error itself for chaining.
func (x *Error) Kind(kind Kind) *Error {
	x.kind = kind
	return x
}

func (x *Error) Error() string {
	if x.cause == nil || x.msg == x.cause.Error() {
		return x.msg
	}
	return fmt.Sprintf("%s: %s", x.msg, x.cause.Error())
}

func (x *Error) Unwrap() error {
	return x.cause
}

// StackTrace renders the stack captured at creation.
func (x *Error) StackTrace() string {
	return fmt.Sprintf("%+v", x.cause)
}

// KindOf walks the error chain and returns the first explicit kind found.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok && e.kind != KindUnknown {
			return e.kind
		}
		err = errors.Unwrap(err)
	}
	return KindUnknown
}

func IsInvalidValue(err error) bool { return KindOf(err) == KindInvalidValue }
func IsNotFound(err error) bool     { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool     { return KindOf(err) == KindConflict }
func IsProvider(err error) bool     { return KindOf(err) == KindProvider }
func IsUnavailable(err error) bool  { return KindOf(err) == KindUnavailable }
