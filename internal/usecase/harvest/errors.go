// Package harvest implements the harvest run orchestrator: enumeration,
// filtering, per-item isolation, job status computation and archival of
// datasets that vanished upstream.
package harvest

import (
	"errors"
	"fmt"
	"time"

	"udata-harvest/internal/domain/entity"
)

// Sentinel errors for harvest operations.
var (
	// ErrUnknownBackend indicates no backend is registered for a kind.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrSourceDeleted indicates a run was requested for a soft-deleted source.
	ErrSourceDeleted = errors.New("source is deleted")

	// ErrSourceRefused indicates a run was requested for a refused source.
	ErrSourceRefused = errors.New("source validation was refused")
)

// Item error kinds recorded on failed items.
const (
	KindFetch     = "fetch"
	KindNotFound  = "not-found"
	KindMalformed = "malformed"
	KindMapping   = "mapping"
	KindTimeout   = "timeout"
	KindInternal  = "internal"
)

// EnumerationError means the remote listing was unreachable or malformed.
// It is job-fatal.
type EnumerationError struct {
	URL string
	Err error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumerate %s: %v", e.URL, e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// RemoteFetchError means a single record could not be retrieved.
type RemoteFetchError struct {
	RemoteID string
	Status   int
	NotFound bool
	Err      error
}

func (e *RemoteFetchError) Error() string {
	switch {
	case e.NotFound:
		return fmt.Sprintf("remote record %q not found", e.RemoteID)
	case e.Status != 0:
		return fmt.Sprintf("fetch %q: HTTP %d: %v", e.RemoteID, e.Status, e.Err)
	default:
		return fmt.Sprintf("fetch %q: %v", e.RemoteID, e.Err)
	}
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

// MalformedRecordError means the record was retrieved but lacks required
// fields. Name carries the remote name when the id itself is missing.
type MalformedRecordError struct {
	RemoteID string
	Name     string
	Fields   entity.ValidationErrors
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %q: %v", e.RemoteID, e.Fields)
}

func (e *MalformedRecordError) Unwrap() error { return e.Fields }

// MappingError means canonicalization failed, typically on schema or
// normalization validation.
type MappingError struct {
	RemoteID string
	Err      error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("map %q: %v", e.RemoteID, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// TimeoutError marks ids left unprocessed when the run budget expired.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run exceeded its %s budget before processing this record", e.Budget)
}

// PanicError records a backend panic on the item that triggered it.
type PanicError struct {
	RemoteID string
	Value    any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("harvest %q panicked: %v", e.RemoteID, e.Value)
}

// itemError converts a per-item failure into its recorded form.
func itemError(err error) entity.ItemError {
	var (
		fetchErr     *RemoteFetchError
		malformedErr *MalformedRecordError
		mappingErr   *MappingError
		timeoutErr   *TimeoutError
		fields       entity.ValidationErrors
	)
	switch {
	case errors.As(err, &timeoutErr):
		return entity.ItemError{Kind: KindTimeout, Message: err.Error()}
	case errors.As(err, &fetchErr) && fetchErr.NotFound:
		return entity.ItemError{Kind: KindNotFound, Message: err.Error()}
	case errors.As(err, &fetchErr):
		return entity.ItemError{Kind: KindFetch, Message: err.Error()}
	case errors.As(err, &malformedErr):
		return entity.ItemError{Kind: KindMalformed, Message: err.Error(), Fields: malformedErr.Fields}
	case errors.As(err, &mappingErr):
		ie := entity.ItemError{Kind: KindMapping, Message: err.Error()}
		if errors.As(err, &fields) {
			ie.Fields = fields
		}
		return ie
	case errors.As(err, &fields):
		return entity.ItemError{Kind: KindMapping, Message: err.Error(), Fields: fields}
	default:
		return entity.ItemError{Kind: KindInternal, Message: err.Error()}
	}
}
