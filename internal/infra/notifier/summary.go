package notifier

import (
	"fmt"
	"strings"
	"time"

	"udata-harvest/internal/domain/entity"
)

// Summary condenses a batch of events into what a human reader needs.
type Summary struct {
	SourceID   string
	SourceName string
	SourceURL  string
	JobID      string

	// Status is the terminal job status, empty when the batch carries no
	// job.finished event.
	Status  entity.JobStatus
	Pending bool
	Counts  map[entity.EventType]int
	At      time.Time
}

// Summarize folds events into a Summary.
func Summarize(src *entity.HarvestSource, events []entity.Event) Summary {
	s := Summary{Counts: make(map[entity.EventType]int)}
	if src != nil {
		s.SourceID, s.SourceName, s.SourceURL = src.ID, src.Name, src.URL
	}
	for _, e := range events {
		s.Counts[e.Type]++
		if e.At.After(s.At) {
			s.At = e.At
		}
		if s.JobID == "" {
			s.JobID = e.JobID
		}
		switch e.Type {
		case entity.EventJobFinished:
			s.Status = entity.JobStatus(e.Subject)
		case entity.EventSourcePending:
			s.Pending = true
		}
	}
	return s
}

// NeedsAttention reports whether an operator has something to act on: a
// source awaiting validation or a job that did not fully succeed.
func (s Summary) NeedsAttention() bool {
	return s.Pending || s.Status == entity.JobFailed || s.Status == entity.JobDoneErrors
}

// Headline is the one-line description of the batch.
func (s Summary) Headline() string {
	name := s.SourceName
	if name == "" {
		name = s.SourceID
	}
	switch {
	case s.Pending:
		return fmt.Sprintf("Harvest source %q is waiting for validation", name)
	case s.Status != "":
		return fmt.Sprintf("Harvest of %q finished: %s", name, s.Status)
	}
	return fmt.Sprintf("Harvest of %q", name)
}

var countOrder = []struct {
	typ   entity.EventType
	label string
}{
	{entity.EventDatasetCreated, "created"},
	{entity.EventDatasetUpdated, "updated"},
	{entity.EventDatasetArchived, "archived"},
	{entity.EventDatasetUnarchived, "restored"},
	{entity.EventResourceAdded, "new resources"},
}

// Details lists the dataset counts, e.g. "3 created, 1 archived".
func (s Summary) Details() string {
	var parts []string
	for _, c := range countOrder {
		if n := s.Counts[c.typ]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, c.label))
		}
	}
	if len(parts) == 0 {
		return "no dataset changes"
	}
	return strings.Join(parts, ", ")
}
