// Package errs holds the sentinel errors shared across layers. Packages wrap
// them with %w so handlers can map failures to HTTP status codes.
package errs

import "errors"

var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable marks a dependency that cannot serve right now, such as
	// a remote module that was never mounted or a closed registry.
	ErrUnavailable = errors.New("temporarily unavailable")
)
