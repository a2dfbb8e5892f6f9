// Package exception is the closed error taxonomy every account failure is
// mapped into before it is written to an execution record.
package exception

import (
	"context"
	"errors"
	"fmt"
	"maps"
)

type Family string

const (
	FamilyWallet  Family = "wallet"
	FamilyTwitter Family = "twitter"
	FamilyDiscord Family = "discord"
	FamilyEmail   Family = "email"
	FamilyProxy   Family = "proxy"
	FamilyGeneral Family = "general"
)

// Error is a classified engine failure. Instances returned by the factories
// are fresh values; WithMessage and WithDetail return modified copies.
type Error struct {
	Family  Family
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so factory results work as
// errors.Is targets.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) clone() *Error {
	out := *e
	out.Details = maps.Clone(e.Details)
	return &out
}

func (e *Error) WithMessage(msg string) *Error {
	out := e.clone()
	if msg != "" {
		out.Message = msg
	}
	return out
}

func (e *Error) WithDetail(key string, value any) *Error {
	out := e.clone()
	if out.Details == nil {
		out.Details = make(map[string]any)
	}
	out.Details[key] = value
	return out
}

// Wrap attaches cause as the underlying error.
func (e *Error) Wrap(cause error) *Error {
	out := e.clone()
	out.Err = cause
	return out
}

// New builds an error for code with its default message. Unknown codes are
// coerced to EXECUTION_FAILED so the result is always inside the taxonomy.
func New(code Code) *Error {
	def, ok := codeTable[code]
	if !ok {
		return New(CodeExecutionFailed).WithDetail("unknownCode", string(code))
	}
	return &Error{Family: def.family, Code: code, Message: def.message}
}

// Classify maps any error into the taxonomy. Taxonomy errors anywhere in the
// chain are returned as-is; nil stays nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if !IsKnown(e.Code) {
			return New(CodeExecutionFailed).WithMessage(e.Message).WithDetail("unknownCode", string(e.Code)).Wrap(err)
		}
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(CodeTimeout).WithDetail("original", err.Error()).Wrap(err)
	case errors.Is(err, context.Canceled):
		return New(CodeExecutionFailed).WithMessage("execution cancelled").
			WithDetail("cancelled", true).WithDetail("original", err.Error()).Wrap(err)
	}
	return New(CodeExecutionFailed).WithMessage(err.Error()).WithDetail("original", err.Error()).Wrap(err)
}

// Is reports whether err classifies to code.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	return Classify(err).Code == code
}
