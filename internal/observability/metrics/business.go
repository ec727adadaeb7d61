package metrics

import (
	"time"
)

// RecordJobFinished records the terminal status and duration of a job.
func RecordJobFinished(backend, status string, duration time.Duration) {
	HarvestJobsTotal.WithLabelValues(backend, status).Inc()
	HarvestJobDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordItem records one item outcome. Duration is ignored for archived
// items, which are produced by the sweep rather than by a fetch.
func RecordItem(backend, status string, duration time.Duration) {
	HarvestItemsTotal.WithLabelValues(backend, status).Inc()
	if status != "archived" {
		HarvestItemDuration.WithLabelValues(backend).Observe(duration.Seconds())
	}
}

// RecordRemoteIDs records the size of an enumeration.
func RecordRemoteIDs(backend string, count int) {
	if count > 0 {
		HarvestRemoteIDsTotal.WithLabelValues(backend).Add(float64(count))
	}
}

// RecordDatasetsArchived records datasets archived by a sweep.
func RecordDatasetsArchived(backend string, count int) {
	if count > 0 {
		HarvestDatasetsArchivedTotal.WithLabelValues(backend).Add(float64(count))
	}
}

// RecordBackendRequest records one remote catalog call.
//
// Example:
//
//	start := time.Now()
//	resp, err := client.Do(req)
//	metrics.RecordBackendRequest("ckan", "package_show", time.Since(start))
func RecordBackendRequest(backend, endpoint string, duration time.Duration) {
	BackendRequestDuration.WithLabelValues(backend, endpoint).Observe(duration.Seconds())
}

// RecordBackendError records a failed remote catalog call by failure kind.
func RecordBackendError(backend, kind string) {
	BackendRequestErrors.WithLabelValues(backend, kind).Inc()
}

// UpdateSourcesScheduled updates the scheduled sources gauge.
func UpdateSourcesScheduled(count int) {
	SourcesScheduled.Set(float64(count))
}
