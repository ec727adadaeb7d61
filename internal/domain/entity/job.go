package entity

import (
	"time"
)

// JobStatus is the state of one execution of a source.
//
//	pending -> running -> done | done-errors | failed
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobRunning    JobStatus = "running"
	JobDone       JobStatus = "done"
	JobDoneErrors JobStatus = "done-errors"
	JobFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobDone || s == JobDoneErrors || s == JobFailed
}

// ItemStatus is the outcome of one remote record within a job.
type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemStarted  ItemStatus = "started"
	ItemSuccess  ItemStatus = "success"
	ItemSkipped  ItemStatus = "skipped"
	ItemFailed   ItemStatus = "failed"
	ItemArchived ItemStatus = "archived"
)

// ItemError describes why a record failed. Fields is set for mapping and
// validation failures.
type ItemError struct {
	Kind    string       `json:"kind"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// HarvestItem is the per-remote-record outcome within a job.
type HarvestItem struct {
	RemoteID   string        `json:"remote_id"`
	Status     ItemStatus    `json:"status"`
	Position   int           `json:"position"`
	DatasetID  *string       `json:"dataset_id,omitempty"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Errors     []ItemError   `json:"errors,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// JobError is a top-level execution error, such as an enumeration failure.
type JobError struct {
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	At      time.Time `json:"at"`
}

// GraphRef points at one remote graph page fetched during enumeration.
// Small graphs are kept inline, large ones only by their blob storage key.
type GraphRef struct {
	Page    int    `json:"page"`
	URL     string `json:"url"`
	Format  string `json:"format"`
	Size    int    `json:"size"`
	Inline  string `json:"inline,omitempty"`
	BlobKey string `json:"blob_key,omitempty"`
}

// HarvestJob is one execution of a source. It owns its items.
type HarvestJob struct {
	ID        string
	SourceID  string
	Status    JobStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Items     []HarvestItem
	Errors    []JobError
	Events    []Event
	Graphs    []GraphRef
	Truncated bool
}

// ItemCounts aggregates item statuses of a job.
type ItemCounts struct {
	Success  int
	Skipped  int
	Failed   int
	Archived int
}

// Processed is the number of items produced from enumerated ids.
func (c ItemCounts) Processed() int {
	return c.Success + c.Skipped + c.Failed
}

// Counts returns the number of items per terminal status.
func (j *HarvestJob) Counts() ItemCounts {
	var c ItemCounts
	for _, it := range j.Items {
		switch it.Status {
		case ItemSuccess:
			c.Success++
		case ItemSkipped:
			c.Skipped++
		case ItemFailed:
			c.Failed++
		case ItemArchived:
			c.Archived++
		}
	}
	return c
}

// ComputeStatus derives the terminal status from the recorded items.
// A job with a top-level error and no processed item is failed; otherwise any
// failed item makes it done-errors. Skipped items are not failures.
func (j *HarvestJob) ComputeStatus() JobStatus {
	c := j.Counts()
	if len(j.Errors) > 0 && c.Processed() == 0 {
		return JobFailed
	}
	if c.Failed > 0 {
		return JobDoneErrors
	}
	return JobDone
}

// Start moves the job to running.
func (j *HarvestJob) Start(now time.Time) {
	j.Status = JobRunning
	j.StartedAt = &now
}

// Finish stamps the end time and computes the terminal status.
func (j *HarvestJob) Finish(now time.Time) {
	j.EndedAt = &now
	j.Status = j.ComputeStatus()
}

// Fail records a job-fatal error and ends the job as failed.
func (j *HarvestJob) Fail(err error, now time.Time) {
	j.Errors = append(j.Errors, JobError{Message: err.Error(), At: now})
	j.EndedAt = &now
	j.Status = JobFailed
}

// Duration returns the wall-clock duration of an ended job.
func (j *HarvestJob) Duration() time.Duration {
	if j.StartedAt == nil || j.EndedAt == nil {
		return 0
	}
	return j.EndedAt.Sub(*j.StartedAt)
}
