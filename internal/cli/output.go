package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/usecase/harvest"
)

const rule = "------------------------------------------------------------------------------------"

func printSources(w io.Writer, sources []*entity.HarvestSource) error {
	fmt.Fprintf(w, "%-28s %-6s %-10s %-8s %-14s %s\n", "SLUG", "KIND", "STATE", "ACTIVE", "SCHEDULE", "URL")
	fmt.Fprintln(w, rule)
	for _, s := range sources {
		state := string(s.Validation.State)
		if s.IsDeleted() {
			state = "deleted"
		}
		schedule := s.Schedule
		if schedule == "" {
			schedule = "-"
		}
		fmt.Fprintf(w, "%-28s %-6s %-10s %-8t %-14s %s\n",
			truncateText(s.Slug, 28), s.Backend, state, s.Active, schedule, s.URL)
	}
	return nil
}

func printJobs(w io.Writer, jobs []*entity.HarvestJob) {
	fmt.Fprintf(w, "%-36s %-12s %-20s %-10s %s\n", "ID", "STATUS", "STARTED", "DURATION", "ITEMS (ok/skip/fail/arch)")
	fmt.Fprintln(w, rule)
	for _, j := range jobs {
		c := j.Counts()
		fmt.Fprintf(w, "%-36s %-12s %-20s %-10s %d/%d/%d/%d\n",
			j.ID, j.Status, formatTime(j.StartedAt), jobDuration(j),
			c.Success, c.Skipped, c.Failed, c.Archived)
	}
}

// printJob shows one job with its failed items and job-level errors.
// verbose also lists successful and skipped items.
func printJob(w io.Writer, src *entity.HarvestSource, job *entity.HarvestJob, verbose bool) {
	c := job.Counts()
	fmt.Fprintf(w, "Job: %s\n", job.ID)
	fmt.Fprintf(w, "  Source: %s\n", src.Slug)
	fmt.Fprintf(w, "  Status: %s\n", job.Status)
	fmt.Fprintf(w, "  Started: %s\n", formatTime(job.StartedAt))
	fmt.Fprintf(w, "  Duration: %s\n", jobDuration(job))
	fmt.Fprintf(w, "  Items: %d success, %d skipped, %d failed, %d archived\n", c.Success, c.Skipped, c.Failed, c.Archived)
	if job.Truncated {
		fmt.Fprintln(w, "  Truncated: item limit reached")
	}
	if len(job.Graphs) > 0 {
		fmt.Fprintf(w, "  Graphs: %d page(s)\n", len(job.Graphs))
		for _, g := range job.Graphs {
			where := "inline"
			if g.BlobKey != "" {
				where = g.BlobKey
			}
			fmt.Fprintf(w, "    #%d %s (%s, %d bytes) %s\n", g.Page, g.URL, g.Format, g.Size, where)
		}
	}

	for _, e := range job.Errors {
		fmt.Fprintf(w, "  Error: %s\n", e.Message)
		if e.Details != "" {
			fmt.Fprintf(w, "    %s\n", e.Details)
		}
	}

	for _, it := range job.Items {
		if !verbose && it.Status != entity.ItemFailed {
			continue
		}
		line := fmt.Sprintf("  [%s] %s", it.Status, it.RemoteID)
		if it.SkipReason != "" {
			line += " (" + it.SkipReason + ")"
		}
		fmt.Fprintln(w, line)
		for _, e := range it.Errors {
			fmt.Fprintf(w, "      %s: %s\n", e.Kind, e.Message)
			for _, f := range e.Fields {
				fmt.Fprintf(w, "        %s: %s\n", f.Path, f.Message)
			}
		}
	}
}

// printPreview lists what a run would do without persisting anything.
func printPreview(w io.Writer, job *entity.HarvestJob) {
	c := job.Counts()
	fmt.Fprintf(w, "Preview: %d item(s), %d would be skipped, %d would fail\n", len(job.Items), c.Skipped, c.Failed)
	if job.Truncated {
		fmt.Fprintln(w, "(truncated to the preview limit)")
	}
	for _, e := range job.Errors {
		fmt.Fprintf(w, "Error: %s\n", e.Message)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-4s %-10s %s\n", "#", "STATUS", "REMOTE ID")
	fmt.Fprintln(w, rule)
	for _, it := range job.Items {
		detail := it.SkipReason
		if len(it.Errors) > 0 {
			detail = it.Errors[0].Message
		}
		fmt.Fprintf(w, "%-4d %-10s %s", it.Position, it.Status, it.RemoteID)
		if detail != "" {
			fmt.Fprintf(w, "  (%s)", detail)
		}
		fmt.Fprintln(w)
	}
}

func printBackends(w io.Writer, infos []harvest.BackendInfo) {
	for _, info := range infos {
		fmt.Fprintf(w, "%s - %s\n", info.Kind, info.DisplayName)
		if len(info.Filters) > 0 {
			fmt.Fprintln(w, "  Filters:")
			for _, f := range info.Filters {
				fmt.Fprintf(w, "    %-16s %s\n", f.Key, f.Label)
			}
		}
		if len(info.Features) > 0 {
			fmt.Fprintln(w, "  Features:")
			for _, f := range info.Features {
				fmt.Fprintf(w, "    %-16s default=%t\n", f.Key, f.Default)
			}
		}
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func jobDuration(j *entity.HarvestJob) string {
	if j.StartedAt == nil || j.EndedAt == nil {
		return "-"
	}
	return j.EndedAt.Sub(*j.StartedAt).Round(time.Second).String()
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n-3]) + "..."
}
