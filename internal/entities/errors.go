package entities

import "errors"

var (
	// ErrUnsupportedFormat means the payload could not be decoded as one of
	// the accepted image formats. Nothing has been persisted when it fires.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrLockTimeout means the per-model ordering lock was not acquired
	// within the configured window. Nothing has been persisted.
	ErrLockTimeout = errors.New("ordering lock not acquired in time")

	// ErrTxConflict is a serializable transaction abort; the whole operation
	// can be retried.
	ErrTxConflict = errors.New("transaction conflict")

	ErrImageNotFound = errors.New("image not found for model")

	// ErrOrderOutOfRange means the requested sort order is outside 1..N.
	ErrOrderOutOfRange = errors.New("sort order out of range")
)
