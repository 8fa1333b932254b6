// Package errx provides small helpers for wrapping sentinel errors with
// context while keeping them discoverable via errors.Is.
package errx

import "fmt"

// Wrap pairs a package sentinel with the underlying cause. Both remain
// unwrappable: errors.Is(err, sentinel) and errors.Is(err, cause) hold.
func Wrap(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// With pairs a package sentinel with a formatted suffix. format is appended
// directly after the sentinel's text, so callers lead with punctuation
// (e.g. " %s: %w") rather than restating the sentinel.
func With(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w"+format, append([]interface{}{sentinel}, args...)...)
}
