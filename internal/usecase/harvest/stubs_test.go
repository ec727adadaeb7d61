package harvest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/repository"
)

/*────────────────────  clock  ────────────────────*/

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

/*────────────────────  source repository  ────────────────────*/

type stubSources struct {
	data map[string]*entity.HarvestSource
}

func newStubSources(srcs ...*entity.HarvestSource) *stubSources {
	s := &stubSources{data: map[string]*entity.HarvestSource{}}
	for _, src := range srcs {
		s.data[src.ID] = src
	}
	return s
}

func (s *stubSources) Get(_ context.Context, id string) (*entity.HarvestSource, error) {
	src, ok := s.data[id]
	if !ok {
		return nil, fmt.Errorf("source %s: %w", id, entity.ErrNotFound)
	}
	return src, nil
}
func (s *stubSources) GetBySlug(_ context.Context, slug string) (*entity.HarvestSource, error) {
	for _, src := range s.data {
		if src.Slug == slug {
			return src, nil
		}
	}
	return nil, entity.ErrNotFound
}
func (s *stubSources) List(_ context.Context, _ bool) ([]*entity.HarvestSource, error) {
	return nil, nil
}
func (s *stubSources) ListSchedulable(_ context.Context) ([]*entity.HarvestSource, error) {
	return nil, nil
}
func (s *stubSources) Create(_ context.Context, src *entity.HarvestSource) error {
	s.data[src.ID] = src
	return nil
}
func (s *stubSources) Update(_ context.Context, src *entity.HarvestSource) error {
	s.data[src.ID] = src
	return nil
}
func (s *stubSources) SoftDelete(_ context.Context, id string, at time.Time) error {
	s.data[id].DeletedAt = &at
	return nil
}
func (s *stubSources) PurgeDeleted(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

/*────────────────────  dataset repository  ────────────────────*/

// memDatasets serializes upserts with one mutex, like the advisory lock.
type memDatasets struct {
	mu      sync.Mutex
	data    map[entity.DatasetKey]*entity.Dataset
	nextID  int
	upserts int
}

func newMemDatasets() *memDatasets {
	return &memDatasets{data: map[entity.DatasetKey]*entity.Dataset{}}
}

func (m *memDatasets) FindByKey(_ context.Context, key entity.DatasetKey) (*entity.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", key, entity.ErrNotFound)
	}
	return cloneDataset(d), nil
}

func (m *memDatasets) Upsert(_ context.Context, key entity.DatasetKey, mutate repository.MutateFunc) (*repository.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++

	var existing *entity.Dataset
	if d, ok := m.data[key]; ok {
		existing = cloneDataset(d)
	}
	d, err := mutate(existing)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return &repository.UpsertResult{Dataset: existing}, nil
	}
	created := existing == nil
	if created {
		m.nextID++
		d.ID = fmt.Sprintf("ds-%d", m.nextID)
	} else {
		d.ID = existing.ID
	}
	m.data[key] = cloneDataset(d)
	return &repository.UpsertResult{Dataset: d, Created: created}, nil
}

func (m *memDatasets) ListHarvestedBySource(_ context.Context, sourceID string) ([]*entity.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Dataset
	for _, d := range m.data {
		if d.Harvest != nil && d.Harvest.SourceID == sourceID {
			out = append(out, cloneDataset(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memDatasets) get(remoteID string) *entity.Dataset {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, d := range m.data {
		if k.RemoteID == remoteID {
			return d
		}
	}
	return nil
}

func (m *memDatasets) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

/*────────────────────  job repository  ────────────────────*/

type memJobs struct {
	mu     sync.Mutex
	jobs   map[string]*entity.HarvestJob
	order  []string
	nextID int
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[string]*entity.HarvestJob{}}
}

func (m *memJobs) Create(_ context.Context, job *entity.HarvestJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	job.ID = fmt.Sprintf("job-%d", m.nextID)
	cp := *job
	m.jobs[job.ID] = &cp
	m.order = append(m.order, job.ID)
	return nil
}

func (m *memJobs) AppendItem(_ context.Context, jobID string, item entity.HarvestItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return entity.ErrNotFound
	}
	j.Items = append(j.Items, item)
	return nil
}

func (m *memJobs) Update(_ context.Context, job *entity.HarvestJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return entity.ErrNotFound
	}
	cp := *job
	cp.Items = append([]entity.HarvestItem(nil), job.Items...)
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobs) Get(_ context.Context, id string) (*entity.HarvestJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return j, nil
}

func (m *memJobs) GetLast(ctx context.Context, sourceID string) (*entity.HarvestJob, error) {
	jobs, _ := m.ListBySource(ctx, sourceID, 1)
	if len(jobs) == 0 {
		return nil, entity.ErrNotFound
	}
	return jobs[0], nil
}

func (m *memJobs) ListBySource(_ context.Context, sourceID string, limit int) ([]*entity.HarvestJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.HarvestJob
	for i := len(m.order) - 1; i >= 0; i-- {
		j := m.jobs[m.order[i]]
		if j.SourceID == sourceID {
			out = append(out, j)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memJobs) PurgeOlderThan(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := map[string]string{}
	for _, id := range m.order {
		latest[m.jobs[id].SourceID] = id
	}
	var n int64
	kept := m.order[:0]
	for _, id := range m.order {
		j := m.jobs[id]
		if j.CreatedAt.Before(before) && latest[j.SourceID] != id {
			delete(m.jobs, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return n, nil
}

func (m *memJobs) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

/*────────────────────  backend  ────────────────────*/

type stubRaw struct {
	Title     string
	Resources []entity.Resource
	MapErr    error
	Panic     bool
}

// stubBackend serves records from memory.
type stubBackend struct {
	mu sync.Mutex

	clock          *fakeClock
	ids            []string
	attrs          map[string]map[string][]string
	filtersApplied bool
	listErr        error
	records        map[string]*RemoteRecord
	fetchErr       map[string]error
	block          bool // fetch waits for ctx cancellation
	fetched        []string
	finished       []RunInfo
}

func newStubBackend(clock *fakeClock) *stubBackend {
	return &stubBackend{
		clock:    clock,
		records:  map[string]*RemoteRecord{},
		fetchErr: map[string]error{},
	}
}

func (b *stubBackend) add(id, title string) {
	b.ids = append(b.ids, id)
	b.records[id] = &RemoteRecord{RemoteID: id, Name: id, Raw: stubRaw{Title: title}}
}

// addNamed lists a record under name while its remote id is id, the way
// CKAN enumerates package names.
func (b *stubBackend) addNamed(name, id, title string) {
	b.ids = append(b.ids, name)
	b.records[name] = &RemoteRecord{RemoteID: id, Name: name, Raw: stubRaw{Title: title}}
}

func (b *stubBackend) Info() BackendInfo {
	return BackendInfo{
		Kind:        entity.BackendCKAN,
		DisplayName: "Stub",
		Filters:     []FilterDef{{Key: "tags", Label: "Tag"}},
		Features:    []FeatureDef{{Key: "ckan:skip_private", Default: true}},
	}
}

func (b *stubBackend) ListRemoteIDs(_ context.Context, _ *entity.HarvestSource) (*Listing, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return &Listing{
		IDs:            append([]string(nil), b.ids...),
		FiltersApplied: b.filtersApplied,
		Attributes:     b.attrs,
	}, nil
}

func (b *stubBackend) FetchRemoteRecord(ctx context.Context, _ *entity.HarvestSource, id string) (*RemoteRecord, error) {
	b.mu.Lock()
	b.fetched = append(b.fetched, id)
	b.mu.Unlock()

	if b.block {
		<-ctx.Done()
		return nil, &RemoteFetchError{RemoteID: id, Err: ctx.Err()}
	}
	if err := b.fetchErr[id]; err != nil {
		return nil, err
	}
	rec, ok := b.records[id]
	if !ok {
		return nil, &RemoteFetchError{RemoteID: id, NotFound: true}
	}
	return rec, nil
}

func (b *stubBackend) FinishRun(ctx context.Context, _ *entity.HarvestSource) {
	b.mu.Lock()
	b.finished = append(b.finished, RunInfoFromContext(ctx))
	b.mu.Unlock()
}

func (b *stubBackend) ToCanonical(_ context.Context, src *entity.HarvestSource, rec *RemoteRecord, existing *entity.Dataset) (*MappingResult, error) {
	raw := rec.Raw.(stubRaw)
	if raw.Panic {
		var m map[string]int
		m["boom"]++
	}
	if raw.MapErr != nil {
		return nil, raw.MapErr
	}
	now := b.clock.Now()
	d := NewDraft(src, existing, rec.Identity(""), now)
	d.Title = raw.Title
	events := MergeResources(d, raw.Resources, now)
	return &MappingResult{Dataset: d, Events: events}, nil
}

/*────────────────────  publisher  ────────────────────*/

type capturePublisher struct {
	mu     sync.Mutex
	calls  int
	events []entity.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, _ *entity.HarvestSource, events []entity.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.events = append(p.events, events...)
	return p.err
}

func (p *capturePublisher) types() []entity.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]entity.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
