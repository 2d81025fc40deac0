// Package apperr defines the small set of sentinel errors that every
// layer of the application wraps domain failures around. On the HTTP
// side, the handlers package's respondErr maps these to status codes;
// realtime handlers report failures through the client's error event
// with a message and kind chosen per handler.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Every error that should reach the client as
// something other than a bare 500 is created with one of these.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrForbidden           = errors.New("forbidden")
	ErrValidation          = errors.New("validation failed")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Wrap attaches a message to a sentinel kind while preserving it for
// errors.Is checks at the boundary.
func Wrap(kind error, msg string) error {
	return fmt.Errorf("%s: %w", msg, kind)
}

// Wrapf is Wrap with formatting.
func Wrapf(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// Is reports whether err ultimately carries kind, walking %w chains.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
