// Package source manages harvest sources: creation with moderation,
// scheduling, soft deletion and purge of deleted sources.
package source

import "errors"

var (
	// ErrSourceNotFound is returned when no source matches the id or slug.
	ErrSourceNotFound = errors.New("source not found")

	// ErrSourceDeleted is returned when mutating a soft-deleted source.
	ErrSourceDeleted = errors.New("source is deleted")

	// ErrInvalidDecision is returned by Validate for states other than
	// accepted or refused.
	ErrInvalidDecision = errors.New("validation decision must be accepted or refused")
)
