package harvest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"udata-harvest/internal/domain/entity"
)

/*────────────────────  fixture  ────────────────────*/

type fixture struct {
	clock     *fakeClock
	src       *entity.HarvestSource
	backend   *stubBackend
	datasets  *memDatasets
	jobRepo   *memJobs
	publisher *capturePublisher
	svc       *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := newClock()
	org := "org-1"
	src := &entity.HarvestSource{
		ID:             "src-1",
		Name:           "Data Paris",
		Slug:           "data-paris",
		URL:            "https://opendata.paris.fr",
		Backend:        entity.BackendCKAN,
		OrganizationID: &org,
		Active:         true,
		Validation:     entity.SourceValidation{State: entity.ValidationAccepted},
	}
	backend := newStubBackend(clock)
	registry, err := NewRegistry(backend)
	require.NoError(t, err)

	f := &fixture{
		clock:     clock,
		src:       src,
		backend:   backend,
		datasets:  newMemDatasets(),
		jobRepo:   newMemJobs(),
		publisher: &capturePublisher{},
	}
	store := NewJobStore(f.jobRepo)
	store.now = clock.Now
	f.svc = NewService(newStubSources(src), f.datasets, store, registry, f.publisher, cfg)
	f.svc.now = clock.Now
	return f
}

func statusesByRemoteID(job *entity.HarvestJob) map[string]entity.ItemStatus {
	out := make(map[string]entity.ItemStatus, len(job.Items))
	for _, it := range job.Items {
		out[it.RemoteID] = it.Status
	}
	return out
}

/*────────────────────  item accounting  ────────────────────*/

func TestRun_OneItemPerEnumeratedID(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.add("a", "Dataset A")
	f.backend.add("b", "Dataset B")
	f.backend.add("c", "Dataset C")
	f.backend.records["b"].Skip = "private"
	f.backend.fetchErr["c"] = &RemoteFetchError{RemoteID: "c", Status: 502, Err: errors.New("bad gateway")}
	// duplicates and empty ids collapse
	f.backend.ids = append(f.backend.ids, "a", "")

	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)

	require.Len(t, job.Items, 3)
	c := job.Counts()
	assert.Equal(t, 1, c.Success)
	assert.Equal(t, 1, c.Skipped)
	assert.Equal(t, 1, c.Failed)
	assert.Equal(t, entity.JobDoneErrors, job.Status)

	byID := statusesByRemoteID(job)
	assert.Equal(t, entity.ItemSuccess, byID["a"])
	assert.Equal(t, entity.ItemSkipped, byID["b"])
	assert.Equal(t, entity.ItemFailed, byID["c"])

	stored, err := f.jobRepo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 3)
	assert.Equal(t, entity.JobDoneErrors, stored.Status)
}

func TestRun_FailedItemsCarryRemoteID(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
		kind string
	}{
		{
			name: "fetch error keeps enumerated id",
			err:  &RemoteFetchError{RemoteID: "pkg-1", Status: 500, Err: errors.New("boom")},
			want: "pkg-1",
			kind: KindFetch,
		},
		{
			name: "not found",
			err:  &RemoteFetchError{RemoteID: "pkg-1", NotFound: true},
			want: "pkg-1",
			kind: KindNotFound,
		},
		{
			name: "malformed falls back to name",
			err: &MalformedRecordError{Name: "budget-2023", Fields: entity.ValidationErrors{
				{Path: "title", Message: "is required"},
			}},
			want: "budget-2023",
			kind: KindMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			f.backend.ids = []string{"pkg-1"}
			f.backend.fetchErr["pkg-1"] = tt.err

			job, err := f.svc.Run(context.Background(), f.src.ID)
			require.NoError(t, err)
			require.Len(t, job.Items, 1)

			it := job.Items[0]
			assert.Equal(t, entity.ItemFailed, it.Status)
			assert.Equal(t, tt.want, it.RemoteID)
			require.Len(t, it.Errors, 1)
			assert.Equal(t, tt.kind, it.Errors[0].Kind)
		})
	}
}

func TestRun_MappingErrorIsIsolated(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.add("a", "Dataset A")
	f.backend.add("b", "Dataset B")
	f.backend.records["b"].Raw = stubRaw{MapErr: entity.ValidationErrors{
		{Path: "resources[0].schema.version", Message: "unknown version"},
	}}

	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.JobDoneErrors, job.Status)
	for _, it := range job.Items {
		if it.RemoteID != "b" {
			continue
		}
		require.Len(t, it.Errors, 1)
		assert.Equal(t, KindMapping, it.Errors[0].Kind)
		require.Len(t, it.Errors[0].Fields, 1)
		assert.Equal(t, "resources[0].schema.version", it.Errors[0].Fields[0].Path)
	}
	assert.Nil(t, f.datasets.get("b"))
	assert.NotNil(t, f.datasets.get("a"))
}

/*────────────────────  status computation  ────────────────────*/

func TestRun_PartialFailure(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.add("ok", "Fine")
	f.backend.ids = append(f.backend.ids, "gone")

	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.JobDoneErrors, job.Status)
	c := job.Counts()
	assert.Equal(t, 1, c.Success)
	assert.Equal(t, 1, c.Failed)
	assert.NotNil(t, job.EndedAt)
}

func TestRun_EnumerationFailure(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.listErr = errors.New("connection refused")

	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.Error(t, err)

	var enumErr *EnumerationError
	assert.True(t, errors.As(err, &enumErr))
	require.NotNil(t, job)
	assert.Equal(t, entity.JobFailed, job.Status)
	assert.Empty(t, job.Items)
	require.Len(t, job.Errors, 1)
	assert.Contains(t, job.Errors[0].Message, "connection refused")

	// job.finished is still notified
	assert.Contains(t, f.publisher.types(), entity.EventJobFinished)
}

func TestRun_RejectsDeletedAndRefusedSources(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		at := f.clock.Now()
		f.src.DeletedAt = &at

		job, err := f.svc.Run(context.Background(), f.src.ID)
		assert.ErrorIs(t, err, ErrSourceDeleted)
		assert.Nil(t, job)
		assert.Zero(t, f.jobRepo.len())
	})
	t.Run("refused", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		f.src.Validation.State = entity.ValidationRefused

		_, err := f.svc.Run(context.Background(), f.src.ID)
		assert.ErrorIs(t, err, ErrSourceRefused)
		assert.Zero(t, f.jobRepo.len())
	})
	t.Run("unknown source", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		_, err := f.svc.Run(context.Background(), "missing")
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})
}

/*────────────────────  idempotence  ────────────────────*/

func TestRun_IsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.add("a", "Dataset A")
	f.backend.add("b", "Dataset B")

	first, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)
	idA := f.datasets.get("a").ID

	f.clock.Advance(time.Hour)
	second, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, f.datasets.count())
	assert.Equal(t, idA, f.datasets.get("a").ID)
	assert.Equal(t, first.Counts(), second.Counts())
	assert.Equal(t, entity.JobDone, second.Status)

	for _, ev := range second.Events {
		assert.NotEqual(t, entity.EventDatasetCreated, ev.Type)
	}
}

/*────────────────────  filters and truncation  ────────────────────*/

func TestRun_ExcludeFilter(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.add("p1", "One")
	f.backend.add("p2", "Two")
	f.backend.add("p3", "Three")
	f.backend.attrs = map[string]map[string][]string{
		"p1": {"tags": {"environnement"}},
		"p2": {"tags": {"T"}},
		"p3": {},
	}
	f.src.Filters = []entity.Filter{{Key: "tags", Value: "t", Type: entity.FilterExclude}}

	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)

	assert.Len(t, job.Items, 2)
	assert.Equal(t, 2, job.Counts().Success)
	assert.NotContains(t, statusesByRemoteID(job), "p2")
	assert.NotContains(t, f.backend.fetched, "p2")
}

func TestRun_FiltersPushedDownAreNotReapplied(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.add("p1", "One")
	f.backend.filtersApplied = true
	f.src.Filters = []entity.Filter{{Key: "tags", Value: "x", Type: entity.FilterInclude}}

	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Counts().Success)
}

func TestRun_MaxItemsIsDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		f := newFixture(t, DefaultConfig())
		f.backend.add("zeta", "Z")
		f.backend.add("alpha", "A")
		one := 1
		f.src.MaxItems = &one

		job, err := f.svc.Run(context.Background(), f.src.ID)
		require.NoError(t, err)

		require.Len(t, job.Items, 1)
		assert.Equal(t, "alpha", job.Items[0].RemoteID)
		assert.True(t, job.Truncated)
	}
}

/*────────────────────  archival  ────────────────────*/

func TestRun_ArchivesVanishedDatasetsAndRestoresThem(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.add("a", "Dataset A")
	f.backend.add("b", "Dataset B")
	_, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)

	// b vanishes, but within the grace period nothing happens
	f.backend.ids = []string{"a"}
	f.clock.Advance(2 * 24 * time.Hour)
	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)
	assert.Zero(t, job.Counts().Archived)
	assert.False(t, f.datasets.get("b").IsArchived())

	f.clock.Advance(6 * 24 * time.Hour)
	job, err = f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)

	require.Len(t, job.Items, 2)
	last := job.Items[len(job.Items)-1]
	assert.Equal(t, entity.ItemArchived, last.Status)
	assert.Equal(t, "b", last.RemoteID)
	assert.Equal(t, entity.JobDone, job.Status)

	b := f.datasets.get("b")
	require.True(t, b.IsArchived())
	assert.Equal(t, ArchiveReasonNotOnRemote, b.Harvest.ArchivedReason)
	assert.Contains(t, f.publisher.types(), entity.EventDatasetArchived)

	// b comes back
	f.backend.ids = []string{"a", "b"}
	f.clock.Advance(time.Hour)
	job, err = f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)

	assert.Equal(t, 2, job.Counts().Success)
	b = f.datasets.get("b")
	assert.False(t, b.IsArchived())
	assert.Empty(t, b.Harvest.ArchivedReason)
	assert.Contains(t, f.publisher.types(), entity.EventDatasetUnarchived)
}

func TestRun_NoArchivalWhenDisabledOrTruncated(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name:  "feature disabled",
			setup: func(f *fixture) { f.src.Features = map[string]bool{FeatureAutoArchive: false} },
		},
		{
			name: "truncated job",
			setup: func(f *fixture) {
				f.backend.add("c", "Dataset C")
				one := 1
				f.src.MaxItems = &one
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			f.backend.add("a", "Dataset A")
			f.backend.add("b", "Dataset B")
			_, err := f.svc.Run(context.Background(), f.src.ID)
			require.NoError(t, err)

			f.backend.ids = []string{"a"}
			tt.setup(f)
			f.clock.Advance(30 * 24 * time.Hour)

			job, err := f.svc.Run(context.Background(), f.src.ID)
			require.NoError(t, err)
			assert.Zero(t, job.Counts().Archived)
			assert.False(t, f.datasets.get("b").IsArchived())
		})
	}
}

func TestRun_FailedFetchDoesNotArchiveListedDataset(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.addNamed("name-a", "uuid-a", "Dataset A")
	f.backend.addNamed("name-b", "uuid-b", "Dataset B")
	_, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)
	assert.Equal(t, "name-b", f.datasets.get("uuid-b").Harvest.RemoteName)

	f.clock.Advance(8 * 24 * time.Hour)
	f.backend.fetchErr["name-b"] = &RemoteFetchError{RemoteID: "name-b", Status: 503, Err: errors.New("Service Unavailable")}

	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)

	require.Len(t, job.Items, 2)
	assert.Equal(t, map[string]entity.ItemStatus{
		"name-b": entity.ItemFailed,
		"uuid-a": entity.ItemSuccess,
	}, statusesByRemoteID(job))
	assert.Zero(t, job.Counts().Archived)
	assert.False(t, f.datasets.get("uuid-b").IsArchived())
}

func TestRun_RenamedDatasetIsArchived(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.addNamed("name-a", "uuid-a", "Dataset A")
	f.backend.addNamed("name-b", "uuid-b", "Dataset B")
	_, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)

	f.backend.ids = []string{"name-a"}
	f.clock.Advance(8 * 24 * time.Hour)

	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Counts().Archived)
	assert.True(t, f.datasets.get("uuid-b").IsArchived())
}

/*────────────────────  run budget  ────────────────────*/

func TestRun_TimeoutFailsRemainingItems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.RunTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg)
	f.backend.add("a", "A")
	f.backend.add("b", "B")
	f.backend.add("c", "C")
	f.backend.block = true

	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)

	require.Len(t, job.Items, 3)
	for _, it := range job.Items {
		assert.Equal(t, entity.ItemFailed, it.Status, it.RemoteID)
		require.Len(t, it.Errors, 1)
		assert.Equal(t, KindTimeout, it.Errors[0].Kind)
	}
	assert.Equal(t, entity.JobDoneErrors, job.Status)
}

/*────────────────────  panics  ────────────────────*/

func TestRun_BackendPanicFailsOnlyThatItem(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.add("a", "Dataset A")
	f.backend.add("b", "Dataset B")
	f.backend.add("c", "Dataset C")
	f.backend.records["b"].Raw = stubRaw{Title: "Dataset B", Panic: true}

	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)

	require.Len(t, job.Items, 3)
	assert.Equal(t, map[string]entity.ItemStatus{
		"a": entity.ItemSuccess,
		"b": entity.ItemFailed,
		"c": entity.ItemSuccess,
	}, statusesByRemoteID(job))
	for _, it := range job.Items {
		if it.RemoteID == "b" {
			require.Len(t, it.Errors, 1)
			assert.Equal(t, KindInternal, it.Errors[0].Kind)
			assert.Contains(t, it.Errors[0].Message, "panicked")
		}
	}
	assert.Equal(t, entity.JobDoneErrors, job.Status)
	assert.Nil(t, f.datasets.get("b"))
}

/*────────────────────  events  ────────────────────*/

func TestRun_PublishesEvents(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.add("a", "A")
	f.backend.records["a"].Raw = stubRaw{
		Title:     "A",
		Resources: []entity.Resource{{Title: "csv", URL: "https://example.org/a.csv"}},
	}

	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, f.publisher.calls)
	types := f.publisher.types()
	assert.Contains(t, types, entity.EventDatasetCreated)
	assert.Contains(t, types, entity.EventResourceAdded)
	assert.Equal(t, entity.EventJobFinished, types[len(types)-1])

	for _, ev := range f.publisher.events {
		assert.Equal(t, f.src.ID, ev.SourceID)
		assert.Equal(t, job.ID, ev.JobID)
	}
}

func TestRun_PublisherFailureDoesNotAffectJob(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.add("a", "A")
	f.publisher.err = errors.New("broker down")

	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobDone, job.Status)
}

/*────────────────────  preview  ────────────────────*/

func TestPreview_WritesNothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreviewMaxItems = 2
	f := newFixture(t, cfg)
	f.src.Validation.State = entity.ValidationPending
	f.backend.add("a", "A")
	f.backend.add("b", "B")
	f.backend.add("c", "C")

	job, err := f.svc.Preview(context.Background(), f.src.ID)
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Len(t, job.Items, 2)
	assert.True(t, job.Truncated)
	assert.Equal(t, entity.JobDone, job.Status)
	assert.Zero(t, f.datasets.count())
	assert.Zero(t, f.jobRepo.len())
	assert.Zero(t, f.publisher.calls)
}

func TestRunAndPreview_FinishBackendRun(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.add("a", "Dataset A")

	job, err := f.svc.Run(context.Background(), f.src.ID)
	require.NoError(t, err)
	preview, err := f.svc.Preview(context.Background(), f.src.ID)
	require.NoError(t, err)

	require.Len(t, f.backend.finished, 2)
	assert.Equal(t, RunInfo{JobID: job.ID}, f.backend.finished[0])
	assert.Equal(t, RunInfo{JobID: preview.ID, Preview: true}, f.backend.finished[1])
	assert.NotEqual(t, job.ID, preview.ID)
}

func TestPreview_ReportsMappingErrors(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.backend.add("a", "A")
	f.backend.records["a"].Raw = stubRaw{MapErr: errors.New("bad license")}

	job, err := f.svc.Preview(context.Background(), f.src.ID)
	require.NoError(t, err)
	require.Len(t, job.Items, 1)
	assert.Equal(t, KindMapping, job.Items[0].Errors[0].Kind)
	assert.Equal(t, entity.JobDoneErrors, job.Status)
}
