package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/observability/logging"
	"udata-harvest/internal/observability/metrics"
	"udata-harvest/internal/observability/tracing"
	"udata-harvest/internal/repository"
)

// FeatureAutoArchive is the source feature toggling the archival sweep.
// Every backend accepts it and it defaults to enabled.
const FeatureAutoArchive = "autoarchive"

// ArchiveReasonNotOnRemote is recorded on datasets archived by the sweep.
const ArchiveReasonNotOnRemote = "not-on-remote"

// EventPublisher receives the events of a finished run. Delivery is
// fire-and-forget: a failure is logged and never changes the job.
type EventPublisher interface {
	Publish(ctx context.Context, src *entity.HarvestSource, events []entity.Event) error
}

// Config holds the run-level settings of the orchestrator.
type Config struct {
	Concurrency      int           // items processed in parallel per job
	MaxItems         int           // default cap on enumerated ids, 0 for none
	RunTimeout       time.Duration // wall-clock budget of one run, 0 for none
	AutoArchiveGrace time.Duration // minimum age before a vanished dataset is archived
	PreviewMaxItems  int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Concurrency:      4,
		RunTimeout:       6 * time.Hour,
		AutoArchiveGrace: 7 * 24 * time.Hour,
		PreviewMaxItems:  20,
	}
}

// Service runs harvest jobs.
type Service struct {
	sources  repository.SourceRepository
	datasets repository.DatasetRepository
	jobs     *JobStore
	backends *Registry
	events   EventPublisher
	cfg      Config
	now      func() time.Time
}

// NewService wires the orchestrator. events may be nil to disable
// notifications.
func NewService(
	sources repository.SourceRepository,
	datasets repository.DatasetRepository,
	jobs *JobStore,
	backends *Registry,
	events EventPublisher,
	cfg Config,
) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.PreviewMaxItems <= 0 {
		cfg.PreviewMaxItems = DefaultConfig().PreviewMaxItems
	}
	return &Service{
		sources:  sources,
		datasets: datasets,
		jobs:     jobs,
		backends: backends,
		events:   events,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Backends exposes the registry used to resolve source backends.
func (s *Service) Backends() *Registry { return s.backends }

// runMode distinguishes a persisted run from a preview.
type runMode struct {
	preview  bool
	maxItems int
}

// Run executes one harvest of the source. The returned job is always set
// once it has been created. The error is non-nil when the run could not
// start or when the job ended failed; item-level failures are only
// recorded on the job.
func (s *Service) Run(ctx context.Context, sourceID string) (*entity.HarvestJob, error) {
	src, backend, err := s.resolve(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src.Validation.State == entity.ValidationRefused {
		return nil, fmt.Errorf("run source %s: %w", src.Slug, ErrSourceRefused)
	}
	return s.execute(ctx, src, backend, s.jobs, runMode{maxItems: s.maxItems(src)})
}

// Preview runs the pipeline on at most PreviewMaxItems records without
// writing datasets or jobs and without notifying. Pending sources can be
// previewed, which is how moderators review them.
func (s *Service) Preview(ctx context.Context, sourceID string) (*entity.HarvestJob, error) {
	src, backend, err := s.resolve(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	limit := s.cfg.PreviewMaxItems
	if m := s.maxItems(src); m > 0 && m < limit {
		limit = m
	}
	return s.execute(ctx, src, backend, newMemoryJobStore(s.now), runMode{preview: true, maxItems: limit})
}

func (s *Service) resolve(ctx context.Context, sourceID string) (*entity.HarvestSource, Backend, error) {
	src, err := s.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("get source: %w", err)
	}
	if src.IsDeleted() {
		return nil, nil, fmt.Errorf("run source %s: %w", src.Slug, ErrSourceDeleted)
	}
	backend, err := s.backends.Get(src.Backend)
	if err != nil {
		return nil, nil, fmt.Errorf("run source %s: %w", src.Slug, err)
	}
	return src, backend, nil
}

func (s *Service) maxItems(src *entity.HarvestSource) int {
	if src.MaxItems != nil && *src.MaxItems > 0 {
		return *src.MaxItems
	}
	return s.cfg.MaxItems
}

// run carries the state shared by the items of one job.
type run struct {
	src     *entity.HarvestSource
	backend Backend
	job     *entity.HarvestJob
	store   *JobStore
	mode    runMode

	mu     sync.Mutex
	events []entity.Event
}

func (r *run) addEvents(events ...entity.Event) {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
}

func (s *Service) execute(ctx context.Context, src *entity.HarvestSource, backend Backend, store *JobStore, mode runMode) (*entity.HarvestJob, error) {
	ctx, span := tracing.GetTracer().Start(ctx, "harvest.run", trace.WithAttributes(
		attribute.String("source.id", src.ID),
		attribute.String("source.backend", string(src.Backend)),
		attribute.Bool("preview", mode.preview),
	))
	defer span.End()

	job, err := store.StartJob(ctx, src)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start job")
		return nil, fmt.Errorf("run source %s: %w", src.Slug, err)
	}
	span.SetAttributes(attribute.String("job.id", job.ID))
	ctx = WithRunInfo(ctx, RunInfo{JobID: job.ID, Preview: mode.preview})
	if f, ok := backend.(RunFinisher); ok {
		defer f.FinishRun(ctx, src)
	}

	logger := logging.FromContext(ctx).With(
		slog.String("source_id", src.ID),
		slog.String("backend", string(src.Backend)),
		slog.String("job_id", job.ID),
		slog.Bool("preview", mode.preview),
	)
	ctx = logging.WithLogger(ctx, logger)
	logger.Info("harvest job started", slog.String("source", src.Slug))

	r := &run{src: src, backend: backend, job: job, store: store, mode: mode}

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	listing, err := s.enumerate(runCtx, src, backend)
	if err != nil {
		logger.Error("enumeration failed", slog.Any("error", err))
		if ferr := store.FailJob(ctx, job, err); ferr != nil {
			logger.Error("failed to store failed job", slog.Any("error", ferr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "enumeration failed")
		s.complete(ctx, r)
		return job, fmt.Errorf("run source %s: %w", src.Slug, err)
	}

	ids := dedupe(listing.IDs)
	metrics.RecordRemoteIDs(string(src.Backend), len(ids))
	if !listing.FiltersApplied {
		ids = applyFilters(ids, listing.Attributes, src.Filters)
	}
	ids, job.Truncated = truncate(ids, mode.maxItems)
	job.Graphs = listing.Graphs
	logger.Info("remote ids enumerated",
		slog.Int("count", len(ids)),
		slog.Bool("filters_applied", listing.FiltersApplied),
		slog.Bool("truncated", job.Truncated),
	)

	s.processAll(ctx, runCtx, r, ids)

	if err := store.FinishJob(ctx, job); err != nil {
		logger.Error("failed to store finished job", slog.Any("error", err))
	}

	if !mode.preview && s.shouldArchive(r) {
		s.archiveVanished(ctx, r, ids)
	}

	s.complete(ctx, r)
	if job.Status == entity.JobFailed {
		return job, fmt.Errorf("run source %s: job failed", src.Slug)
	}
	return job, nil
}

func (s *Service) enumerate(ctx context.Context, src *entity.HarvestSource, backend Backend) (*Listing, error) {
	ctx, span := tracing.GetTracer().Start(ctx, "harvest.enumerate")
	defer span.End()

	listing, err := backend.ListRemoteIDs(ctx, src)
	if err != nil {
		var enumErr *EnumerationError
		if !errors.As(err, &enumErr) {
			err = &EnumerationError{URL: src.URL, Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "enumerate")
		return nil, err
	}
	span.SetAttributes(attribute.Int("remote_ids", len(listing.IDs)))
	return listing, nil
}

// processAll runs every id through the bounded pool. Each id yields exactly
// one item; ids reached after the run budget expired fail with a
// TimeoutError.
func (s *Service) processAll(ctx, runCtx context.Context, r *run, ids []string) {
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for pos, id := range ids {
		if runCtx.Err() != nil {
			s.recordTimeout(ctx, r, id, pos)
			continue
		}
		pos, id := pos, id
		g.Go(func() error {
			s.processItem(ctx, runCtx, r, id, pos)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) recordTimeout(ctx context.Context, r *run, id string, pos int) {
	now := s.now()
	item := entity.HarvestItem{
		RemoteID:  id,
		Position:  pos,
		Status:    entity.ItemFailed,
		StartedAt: now,
		EndedAt:   &now,
		Errors:    []entity.ItemError{itemError(&TimeoutError{Budget: s.cfg.RunTimeout})},
	}
	s.record(ctx, r, item)
}

// outcome is what harvesting one record produced.
type outcome struct {
	remoteID  string
	datasetID string
	skip      string
	events    []entity.Event
	err       error
}

func (s *Service) processItem(ctx, runCtx context.Context, r *run, id string, pos int) {
	itemCtx, span := tracing.GetTracer().Start(runCtx, "harvest.item", trace.WithAttributes(
		attribute.String("remote.id", id),
	))
	defer span.End()

	start := s.now()
	out := s.safeHarvestOne(itemCtx, r, id)
	if out.err != nil && runCtx.Err() != nil {
		out.err = &TimeoutError{Budget: s.cfg.RunTimeout}
	}
	end := s.now()

	item := entity.HarvestItem{
		RemoteID:  out.remoteID,
		Position:  pos,
		StartedAt: start,
		EndedAt:   &end,
		Duration:  end.Sub(start),
	}
	if item.RemoteID == "" {
		item.RemoteID = id
	}
	if out.datasetID != "" {
		item.DatasetID = &out.datasetID
	}

	logger := logging.FromContext(ctx).With(slog.String("remote_id", item.RemoteID))
	switch {
	case out.err != nil:
		item.Status = entity.ItemFailed
		item.Errors = []entity.ItemError{itemError(out.err)}
		span.RecordError(out.err)
		span.SetStatus(codes.Error, item.Errors[0].Kind)
		logger.Warn("item failed",
			slog.String("kind", item.Errors[0].Kind),
			slog.Any("error", out.err))
	case out.skip != "":
		item.Status = entity.ItemSkipped
		item.SkipReason = out.skip
		logger.Debug("item skipped", slog.String("reason", out.skip))
	default:
		item.Status = entity.ItemSuccess
		r.addEvents(out.events...)
	}
	span.SetAttributes(attribute.String("item.status", string(item.Status)))
	s.record(ctx, r, item)
}

func (s *Service) record(ctx context.Context, r *run, item entity.HarvestItem) {
	if err := r.store.RecordItem(ctx, r.job, item); err != nil {
		logging.FromContext(ctx).Error("failed to record item",
			slog.String("remote_id", item.RemoteID),
			slog.Any("error", err))
	}
	if !r.mode.preview {
		metrics.RecordItem(string(r.src.Backend), string(item.Status), item.Duration)
	}
}

// safeHarvestOne turns a panic in a backend into a failed item so the
// other records of the job still complete.
func (s *Service) safeHarvestOne(ctx context.Context, r *run, id string) (out outcome) {
	defer func() {
		if p := recover(); p != nil {
			logging.FromContext(ctx).Error("panic while harvesting record",
				slog.String("remote_id", id),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
			if out.remoteID == "" {
				out.remoteID = id
			}
			out.datasetID = ""
			out.skip = ""
			out.events = nil
			out.err = &PanicError{RemoteID: out.remoteID, Value: p}
		}
	}()
	return s.harvestOne(ctx, r, id)
}

// harvestOne fetches, maps and stores one record. Lookup, mapping and
// write happen inside the repository upsert so concurrent runs never
// duplicate a key.
func (s *Service) harvestOne(ctx context.Context, r *run, id string) outcome {
	var out outcome
	rec, err := r.backend.FetchRemoteRecord(ctx, r.src, id)
	if err != nil {
		out.remoteID = identityFromError(err, id)
		out.err = err
		return out
	}
	out.remoteID = rec.Identity(id)
	if rec.Skip != "" {
		out.skip = rec.Skip
		return out
	}

	key := entity.DatasetKey{Backend: r.src.Backend, RemoteID: out.remoteID}
	if r.mode.preview {
		return s.previewOne(ctx, r, key, rec, out)
	}

	var (
		mapped     *MappingResult
		unarchived bool
	)
	res, err := s.datasets.Upsert(ctx, key, func(existing *entity.Dataset) (*entity.Dataset, error) {
		m, err := r.backend.ToCanonical(ctx, r.src, rec, existing)
		if err != nil {
			return nil, asMappingError(out.remoteID, err)
		}
		if m.Dataset.IsArchived() {
			m.Dataset.Unarchive()
			unarchived = existing != nil
		}
		if m.Dataset.Harvest != nil {
			m.Dataset.Harvest.RemoteName = ""
			if id != out.remoteID {
				m.Dataset.Harvest.RemoteName = id
			}
		}
		mapped = m
		return m.Dataset, nil
	})
	if err != nil {
		out.err = err
		return out
	}
	if res.Dataset != nil {
		out.datasetID = res.Dataset.ID
	}

	now := s.now()
	lifecycle := entity.EventDatasetUpdated
	if res.Created {
		lifecycle = entity.EventDatasetCreated
	}
	events := []entity.Event{{Type: lifecycle}}
	if unarchived {
		events = append(events, entity.Event{Type: entity.EventDatasetUnarchived})
	}
	if mapped != nil {
		events = append(events, mapped.Events...)
	}
	for i := range events {
		stampEvent(&events[i], r, out.datasetID, out.remoteID, now)
	}
	out.events = events
	return out
}

func (s *Service) previewOne(ctx context.Context, r *run, key entity.DatasetKey, rec *RemoteRecord, out outcome) outcome {
	existing, err := s.datasets.FindByKey(ctx, key)
	if err != nil && !errors.Is(err, entity.ErrNotFound) {
		out.err = err
		return out
	}
	if _, err := r.backend.ToCanonical(ctx, r.src, rec, existing); err != nil {
		out.err = asMappingError(out.remoteID, err)
		return out
	}
	if existing != nil {
		out.datasetID = existing.ID
	}
	return out
}

func stampEvent(e *entity.Event, r *run, datasetID, remoteID string, now time.Time) {
	e.SourceID = r.src.ID
	e.JobID = r.job.ID
	if e.DatasetID == "" {
		e.DatasetID = datasetID
	}
	if e.RemoteID == "" {
		e.RemoteID = remoteID
	}
	if e.At.IsZero() {
		e.At = now
	}
}

// identityFromError recovers the best identifier of a record that could not
// be fetched or parsed.
func identityFromError(err error, enumerated string) string {
	var malformed *MalformedRecordError
	if errors.As(err, &malformed) {
		switch {
		case malformed.RemoteID != "":
			return malformed.RemoteID
		case malformed.Name != "":
			return malformed.Name
		}
	}
	return enumerated
}

func asMappingError(remoteID string, err error) error {
	var (
		malformed *MalformedRecordError
		mapping   *MappingError
	)
	if errors.As(err, &malformed) || errors.As(err, &mapping) {
		return err
	}
	return &MappingError{RemoteID: remoteID, Err: err}
}

// complete stores the collected events, records job metrics and dispatches
// notifications.
func (s *Service) complete(ctx context.Context, r *run) {
	job := r.job
	logger := logging.FromContext(ctx)

	r.mu.Lock()
	job.Events = append(job.Events, r.events...)
	r.mu.Unlock()

	counts := job.Counts()
	logger.Info("harvest job finished",
		slog.String("status", string(job.Status)),
		slog.Int("success", counts.Success),
		slog.Int("skipped", counts.Skipped),
		slog.Int("failed", counts.Failed),
		slog.Int("archived", counts.Archived),
		slog.Duration("duration", job.Duration()),
	)
	if r.mode.preview {
		return
	}

	finished := entity.Event{
		Type:    entity.EventJobFinished,
		Subject: string(job.Status),
	}
	stampEvent(&finished, r, "", "", s.now())
	job.Events = append(job.Events, finished)

	if err := r.store.Save(ctx, job); err != nil {
		logger.Error("failed to store job events", slog.Any("error", err))
	}
	metrics.RecordJobFinished(string(r.src.Backend), string(job.Status), job.Duration())
	metrics.RecordDatasetsArchived(string(r.src.Backend), counts.Archived)

	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, r.src, job.Events); err != nil {
		logger.Warn("event dispatch failed", slog.Any("error", err))
	}
}
