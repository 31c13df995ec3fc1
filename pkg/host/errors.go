package host

import "errors"

var (
	// ErrNotSupported is returned by Funcs for operations without a function.
	ErrNotSupported = errors.New("operation not supported by host")

	// ErrNotFound is returned by hosts when a request cannot be resolved.
	ErrNotFound = errors.New("module not found")
)
