package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures.
type ErrorKind string

const (
	KindInput         ErrorKind = "input"
	KindTimeout       ErrorKind = "timeout"
	KindSerialization ErrorKind = "serialization"

	// KindInternal marks failures that carry no engine kind.
	KindInternal ErrorKind = "internal"
)

// Sentinels matchable with errors.Is against any *Error of the same kind.
var (
	ErrInput         = errors.New("input error")
	ErrTimeout       = errors.New("timeout")
	ErrSerialization = errors.New("serialization defect")
)

// Error is an engine failure tagged with its kind and the offending input.
type Error struct {
	Kind   ErrorKind
	Source string
	Err    error
}

// NewError builds a tagged engine error.
func NewError(kind ErrorKind, source string, err error) *Error {
	return &Error{Kind: kind, Source: source, Err: err}
}

func (e *Error) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInput:
		return e.Kind == KindInput
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrSerialization:
		return e.Kind == KindSerialization
	}
	return false
}

// KindOf returns the kind of err, or "" when err is not an engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ArchiveKind is KindOf with untagged failures reported as KindInternal.
func ArchiveKind(err error) ErrorKind {
	if kind := KindOf(err); kind != "" {
		return kind
	}
	return KindInternal
}
