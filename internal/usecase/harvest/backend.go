package harvest

import (
	"context"
	"fmt"
	"sort"

	"udata-harvest/internal/domain/entity"
)

// Backend is implemented once per remote catalog protocol.
// Implementations hold no state tied to the job store. Preview runs must
// not write anywhere: RunInfoFromContext tells them apart.
type Backend interface {
	// Info describes the backend and the filters and features it understands.
	Info() BackendInfo

	// ListRemoteIDs enumerates candidate identifiers. Filters are pushed
	// down when the protocol supports it, in which case the Listing says so.
	ListRemoteIDs(ctx context.Context, src *entity.HarvestSource) (*Listing, error)

	// FetchRemoteRecord retrieves and parses exactly one record. Failures are
	// reported as *RemoteFetchError or *MalformedRecordError.
	FetchRemoteRecord(ctx context.Context, src *entity.HarvestSource, id string) (*RemoteRecord, error)

	// ToCanonical converts a record into a dataset draft, merged into
	// existing when one is stored for the same key.
	ToCanonical(ctx context.Context, src *entity.HarvestSource, rec *RemoteRecord, existing *entity.Dataset) (*MappingResult, error)
}

// RunFinisher is implemented by backends that keep per-run state between
// enumeration and fetching. FinishRun is called once the run's items are
// all recorded, whatever the outcome.
type RunFinisher interface {
	FinishRun(ctx context.Context, src *entity.HarvestSource)
}

// RunInfo identifies the run a backend call belongs to.
type RunInfo struct {
	JobID   string
	Preview bool
}

type runInfoKey struct{}

// WithRunInfo returns a context carrying info.
func WithRunInfo(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runInfoKey{}, info)
}

// RunInfoFromContext returns the run the context belongs to. Outside a
// run it is the zero RunInfo.
func RunInfoFromContext(ctx context.Context) RunInfo {
	info, _ := ctx.Value(runInfoKey{}).(RunInfo)
	return info
}

// FilterDef declares a filter key a backend accepts.
type FilterDef struct {
	Key         string
	Label       string
	Description string
}

// FeatureDef declares a boolean toggle a backend honours.
type FeatureDef struct {
	Key         string
	Label       string
	Description string
	Default     bool
}

// BackendInfo describes a backend implementation.
type BackendInfo struct {
	Kind        entity.BackendKind
	DisplayName string
	Filters     []FilterDef
	Features    []FeatureDef
}

// FeatureDefault returns the declared default of a feature, or false.
func (i BackendInfo) FeatureDefault(key string) bool {
	for _, f := range i.Features {
		if f.Key == key {
			return f.Default
		}
	}
	return false
}

// Listing is the result of an enumeration.
type Listing struct {
	IDs []string

	// FiltersApplied reports that the source filters were already applied
	// remotely and must not be re-applied.
	FiltersApplied bool

	// Attributes holds filterable values per id (filter key -> values) for
	// backends that cannot filter remotely.
	Attributes map[string]map[string][]string

	// Graphs records the remote pages fetched during enumeration.
	Graphs []entity.GraphRef
}

// RemoteRecord is one fetched remote record.
type RemoteRecord struct {
	RemoteID string
	Name     string
	URL      string
	Raw      any

	// Skip is the reason the backend policy considers the record
	// non-harvestable. Empty means harvestable.
	Skip string
}

// Identity returns the identifier recorded on the item: the remote id,
// else the remote name, else the enumerated id.
func (r *RemoteRecord) Identity(enumerated string) string {
	switch {
	case r == nil:
		return enumerated
	case r.RemoteID != "":
		return r.RemoteID
	case r.Name != "":
		return r.Name
	default:
		return enumerated
	}
}

// MappingResult is the draft produced by ToCanonical together with the
// side effects it implies.
type MappingResult struct {
	Dataset *entity.Dataset
	Events  []entity.Event
}

// Registry resolves backends by kind. It is built once at startup.
type Registry struct {
	backends map[entity.BackendKind]Backend
}

// NewRegistry registers the given backends. Unknown or duplicate kinds are
// rejected.
func NewRegistry(backends ...Backend) (*Registry, error) {
	r := &Registry{backends: make(map[entity.BackendKind]Backend, len(backends))}
	for _, b := range backends {
		kind := b.Info().Kind
		if !kind.Valid() {
			return nil, fmt.Errorf("register backend: unknown kind %q", kind)
		}
		if _, dup := r.backends[kind]; dup {
			return nil, fmt.Errorf("register backend: %q registered twice", kind)
		}
		r.backends[kind] = b
	}
	return r, nil
}

// Get returns the backend for kind.
func (r *Registry) Get(kind entity.BackendKind) (Backend, error) {
	b, ok := r.backends[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
	return b, nil
}

// Infos returns the registered backends sorted by kind.
func (r *Registry) Infos() []BackendInfo {
	infos := make([]BackendInfo, 0, len(r.backends))
	for _, b := range r.backends {
		infos = append(infos, b.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Kind < infos[j].Kind })
	return infos
}

// ValidateSource checks that the source backend is registered and that its
// filters and features are declared by that backend.
func (r *Registry) ValidateSource(src *entity.HarvestSource) error {
	b, ok := r.backends[src.Backend]
	if !ok {
		return &entity.ValidationError{Field: "backend", Message: fmt.Sprintf("no backend registered for %q", src.Backend)}
	}
	info := b.Info()

	var errs entity.ValidationErrors
	for i, f := range src.Filters {
		if !declaresFilter(info, f.Key) {
			errs.Add(fmt.Sprintf("filters[%d].key", i), fmt.Sprintf("unknown filter %q for backend %s", f.Key, info.Kind))
		}
	}
	for key := range src.Features {
		if !declaresFeature(info, key) {
			errs.Add("features."+key, fmt.Sprintf("unknown feature for backend %s", info.Kind))
		}
	}
	return errs.ErrOrNil()
}

func declaresFilter(info BackendInfo, key string) bool {
	for _, f := range info.Filters {
		if f.Key == key {
			return true
		}
	}
	return false
}

func declaresFeature(info BackendInfo, key string) bool {
	if key == FeatureAutoArchive {
		return true
	}
	for _, f := range info.Features {
		if f.Key == key {
			return true
		}
	}
	return false
}
