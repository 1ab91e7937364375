package store

import "errors"

// Store errors. Per-unit corruption is absorbed by readers and reported as
// counts; only a missing root or project aborts an operation.
var (
	// ErrNotFound indicates an unknown project, page or region.
	ErrNotFound = errors.New("not found")

	// ErrCorruptRecord indicates an unreadable or malformed on-disk record.
	// Loaders treat the unit as absent and continue.
	ErrCorruptRecord = errors.New("corrupt record")
)
