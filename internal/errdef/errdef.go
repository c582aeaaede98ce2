package errdef

import (
	"errors"
	"fmt"
)

// Sentinel error kinds returned by registry, supervisor, and console
// operations. Callers classify failures with errors.Is; detail strings
// are attached by wrapping.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrIO              = errors.New("io failure")
)

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrNotFound, args)...)
}

// Conflictf wraps ErrConflict with a formatted detail message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrConflict, args)...)
}

// InvalidStatef wraps ErrInvalidState with a formatted detail message.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrInvalidState, args)...)
}

// InvalidArgumentf wraps ErrInvalidArgument with a formatted detail message.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrInvalidArgument, args)...)
}

// IOf wraps ErrIO with a formatted detail message.
func IOf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrIO, args)...)
}

func prepend(err error, args []any) []any {
	out := make([]any, 0, len(args)+1)
	out = append(out, err)
	return append(out, args...)
}
