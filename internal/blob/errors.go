package blob

import "errors"

var (
	// ErrNotFound is returned when a blob id does not exist.
	ErrNotFound = errors.New("blob not found")

	// ErrBackend wraps failures of the remote blob store.
	ErrBackend = errors.New("blob backend failure")
)
