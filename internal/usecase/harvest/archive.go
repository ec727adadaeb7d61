package harvest

import (
	"context"
	"log/slog"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/observability/logging"
)

// shouldArchive reports whether the sweep may run after this job. A failed
// or truncated job did not see the whole catalog, so absence proves nothing.
func (s *Service) shouldArchive(r *run) bool {
	if r.job.Status == entity.JobFailed || r.job.Truncated {
		return false
	}
	return r.src.Feature(FeatureAutoArchive, true)
}

// archiveVanished archives the datasets of the source that the job did not
// see, under either their remote id or the name the remote lists them by,
// and that were last harvested before the grace period. Each archived
// dataset adds an archived item to the job.
func (s *Service) archiveVanished(ctx context.Context, r *run, enumerated []string) {
	logger := logging.FromContext(ctx)

	seen := make(map[string]struct{}, len(enumerated)+len(r.job.Items))
	for _, id := range enumerated {
		seen[id] = struct{}{}
	}
	for _, it := range r.job.Items {
		seen[it.RemoteID] = struct{}{}
	}

	stored, err := s.datasets.ListHarvestedBySource(ctx, r.src.ID)
	if err != nil {
		logger.Error("archival sweep: list datasets failed", slog.Any("error", err))
		return
	}

	now := s.now()
	limit := now.Add(-s.cfg.AutoArchiveGrace)
	pos := len(r.job.Items)
	archived := 0
	for _, d := range stored {
		key, ok := d.Key()
		if !ok || d.IsArchived() {
			continue
		}
		if _, ok := seen[key.RemoteID]; ok {
			continue
		}
		if name := d.Harvest.RemoteName; name != "" {
			if _, ok := seen[name]; ok {
				continue
			}
		}
		if !d.Harvest.LastUpdate.Before(limit) {
			continue
		}

		changed := false
		res, err := s.datasets.Upsert(ctx, key, func(existing *entity.Dataset) (*entity.Dataset, error) {
			if existing == nil || existing.IsArchived() {
				return nil, nil
			}
			existing.Archive(ArchiveReasonNotOnRemote, now)
			changed = true
			return existing, nil
		})
		if err != nil {
			logger.Error("archival sweep: archive dataset failed",
				slog.String("remote_id", key.RemoteID),
				slog.Any("error", err))
			continue
		}
		if !changed || res.Dataset == nil {
			continue
		}

		datasetID := res.Dataset.ID
		s.record(ctx, r, entity.HarvestItem{
			RemoteID:  key.RemoteID,
			Position:  pos,
			Status:    entity.ItemArchived,
			DatasetID: &datasetID,
			StartedAt: now,
			EndedAt:   &now,
		})
		pos++
		archived++

		ev := entity.Event{Type: entity.EventDatasetArchived, Subject: ArchiveReasonNotOnRemote}
		stampEvent(&ev, r, datasetID, key.RemoteID, now)
		r.addEvents(ev)
	}
	logger.Info("archival sweep completed", slog.Int("archived", archived))
}
