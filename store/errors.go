package store

import "errors"

var (
	// ErrNotFound indicates that GetJob or UpdateJob found no row for
	// the requested identifier. SelectForUpdate reports no match as an
	// empty result instead.
	ErrNotFound = errors.New("store: job not found")

	// ErrStaleUpdate indicates that UpdateJob was called for a row the
	// transaction does not hold locked (it was not obtained via
	// SelectForUpdate or CreateJob in the same transaction). The
	// memstore backend reports it; the sql backend does not check.
	ErrStaleUpdate = errors.New("store: stale update")
)
