// Package errs provides the typed error construction used across the chat
// core. Every domain error carries a stable kind tag so that the command
// pipeline can surface it to the originating socket either as a structured
// object or as a rendered string, per the service's useRawErrorObjects switch.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a stable error tag understood by clients.
type Kind string

const (
	KindInvalidName          Kind = "invalidName"
	KindNoLogin              Kind = "noLogin"
	KindNotAllowed           Kind = "notAllowed"
	KindNotJoined            Kind = "notJoined"
	KindNameInList           Kind = "nameInList"
	KindNoNameInList         Kind = "noNameInList"
	KindNoList               Kind = "noList"
	KindRoomExists           Kind = "roomExists"
	KindNoUserOnline         Kind = "noUserOnline"
	KindWrongArgumentsCount  Kind = "wrongArgumentsCount"
	KindBadArgument          Kind = "badArgument"
	KindInvalidSocket        Kind = "invalidSocket"
	KindServerError          Kind = "serverError"
)

// Error is a typed command error. Args are rendering parameters, not a
// free-form message: the wire form is either {name, args} or "name: args".
type Error struct {
	Kind  Kind
	Args  []any
	cause error
}

func New(kind Kind, args ...any) *Error {
	return &Error{Kind: kind, Args: args}
}

// Wrap captures a non-recoverable backend failure as a serverError, keeping
// the original cause (with a stack trace) for logs while the wire-visible
// kind stays generic.
func Wrap(cause error, context string) *Error {
	return &Error{Kind: KindServerError, Args: []any{context}, cause: errors.WithStack(cause)}
}

func (e *Error) Error() string {
	if len(e.Args) == 0 {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Args)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Rendered is the structured wire form used when useRawErrorObjects is set.
type Rendered struct {
	Name string `json:"name"`
	Args []any  `json:"args,omitempty"`
}

// Render produces the wire value for this error: a Rendered struct when raw
// is true, otherwise the "name: args" string form. Nil errors render as nil
// so callers can pass the result straight into an ack without a branch.
func Render(err *Error, raw bool) any {
	if err == nil {
		return nil
	}
	if raw {
		return Rendered{Name: string(err.Kind), Args: err.Args}
	}
	return err.Error()
}

// Builder binds the service-wide rendering switch to error construction so
// call sites never need to thread useRawErrorObjects through by hand.
type Builder struct {
	UseRawErrorObjects bool
}

func (b Builder) New(kind Kind, args ...any) *Error {
	return New(kind, args...)
}

func (b Builder) Wrap(cause error, context string) *Error {
	return Wrap(cause, context)
}

func (b Builder) Render(err *Error) any {
	return Render(err, b.UseRawErrorObjects)
}
