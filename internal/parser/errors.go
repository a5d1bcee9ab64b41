package parser

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed   = errors.New("malformed entry")
	ErrInvalidDate = errors.New("invalid date")
)

// Kind classifies a parse failure.
type Kind int

const (
	KindMalformed Kind = iota
	KindInvalidDate
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindInvalidDate:
		return "invalid_date"
	}
	return "unknown"
}

// Error describes why a fragment could not be parsed. It unwraps to
// ErrMalformed or ErrInvalidDate depending on Kind.
type Error struct {
	Kind   Kind
	Input  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parser: %s %q: %s: %v", e.Kind, e.Input, e.Reason, e.Err)
	}
	return fmt.Sprintf("parser: %s %q: %s", e.Kind, e.Input, e.Reason)
}

func (e *Error) Unwrap() []error {
	sentinel := ErrMalformed
	if e.Kind == KindInvalidDate {
		sentinel = ErrInvalidDate
	}
	if e.Err != nil {
		return []error{sentinel, e.Err}
	}
	return []error{sentinel}
}

func malformed(input, reason string) *Error {
	return &Error{Kind: KindMalformed, Input: input, Reason: reason}
}

func invalidDate(input, reason string, err error) *Error {
	return &Error{Kind: KindInvalidDate, Input: input, Reason: reason, Err: err}
}
