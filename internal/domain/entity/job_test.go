package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHarvestJob_ComputeStatus(t *testing.T) {
	tests := []struct {
		name   string
		items  []ItemStatus
		errors int
		want   JobStatus
	}{
		{name: "no items", want: JobDone},
		{name: "all success", items: []ItemStatus{ItemSuccess, ItemSuccess}, want: JobDone},
		{name: "skips are not failures", items: []ItemStatus{ItemSuccess, ItemSkipped}, want: JobDone},
		{name: "one failure", items: []ItemStatus{ItemSuccess, ItemFailed}, want: JobDoneErrors},
		{name: "all failed", items: []ItemStatus{ItemFailed, ItemFailed}, want: JobDoneErrors},
		{name: "archived only", items: []ItemStatus{ItemArchived}, want: JobDone},
		{name: "fatal error without items", errors: 1, want: JobFailed},
		{name: "fatal error with items", items: []ItemStatus{ItemSuccess}, errors: 1, want: JobDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &HarvestJob{}
			for i, st := range tt.items {
				job.Items = append(job.Items, HarvestItem{RemoteID: string(rune('a' + i)), Status: st})
			}
			for i := 0; i < tt.errors; i++ {
				job.Errors = append(job.Errors, JobError{Message: "boom"})
			}
			assert.Equal(t, tt.want, job.ComputeStatus())
		})
	}
}

func TestHarvestJob_Lifecycle(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	job := &HarvestJob{Status: JobPending}

	job.Start(start)
	assert.Equal(t, JobRunning, job.Status)
	assert.False(t, job.Status.IsTerminal())

	job.Items = []HarvestItem{{RemoteID: "a", Status: ItemSuccess}, {RemoteID: "b", Status: ItemFailed}}
	job.Finish(start.Add(time.Minute))
	assert.Equal(t, JobDoneErrors, job.Status)
	assert.True(t, job.Status.IsTerminal())
	assert.Equal(t, time.Minute, job.Duration())
}

func TestHarvestJob_Fail(t *testing.T) {
	now := time.Now()
	job := &HarvestJob{}
	job.Start(now)
	job.Fail(errors.New("listing unreachable"), now)

	assert.Equal(t, JobFailed, job.Status)
	assert.Len(t, job.Errors, 1)
	assert.Equal(t, "listing unreachable", job.Errors[0].Message)
	assert.Empty(t, job.Items)
}

func TestItemCounts(t *testing.T) {
	job := &HarvestJob{Items: []HarvestItem{
		{Status: ItemSuccess}, {Status: ItemSkipped}, {Status: ItemFailed}, {Status: ItemArchived}, {Status: ItemArchived},
	}}
	c := job.Counts()
	assert.Equal(t, ItemCounts{Success: 1, Skipped: 1, Failed: 1, Archived: 2}, c)
	assert.Equal(t, 3, c.Processed())
}
