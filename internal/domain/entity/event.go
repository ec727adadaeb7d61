package entity

import "time"

// EventType names an outbound notification.
type EventType string

const (
	EventDatasetCreated    EventType = "dataset.created"
	EventDatasetUpdated    EventType = "dataset.updated"
	EventDatasetArchived   EventType = "dataset.archived"
	EventDatasetUnarchived EventType = "dataset.unarchived"
	EventResourceAdded     EventType = "resource.added"
	EventJobFinished       EventType = "job.finished"
	EventSourcePending     EventType = "source.pending"
)

// Event is a side effect produced by a harvest step. Events are returned by
// the upsert path and dispatched by the caller once the item is recorded.
type Event struct {
	Type      EventType `json:"type"`
	SourceID  string    `json:"source_id,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	DatasetID string    `json:"dataset_id,omitempty"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	At        time.Time `json:"at"`
}
