package errors

import stderrors "errors"

// Re-exports so callers can stay on a single errors import.

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// New returns a plain error, delegating to the standard library.
func New(text string) error {
	return stderrors.New(text)
}
