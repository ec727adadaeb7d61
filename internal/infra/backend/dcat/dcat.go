// Package dcat harvests DCAT catalogs published as RDF graphs, following
// hydra pagination.
package dcat

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/infra/backend"
	"udata-harvest/internal/observability/logging"
	"udata-harvest/internal/usecase/harvest"
)

// BlobStore keeps graph pages too large to be stored inline on the job.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Config controls enumeration.
type Config struct {
	// MaxPages bounds hydra pagination.
	MaxPages int

	// MaxInlineGraphBytes is the largest page kept inline on the job.
	// Larger pages go to the blob store when one is configured.
	MaxInlineGraphBytes int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{MaxPages: 100, MaxInlineGraphBytes: 512 << 10}
}

// Record is the payload of a DCAT remote record: the dataset node and the
// page graph it was found in.
type Record struct {
	Subject string
	graph   *graph

	// problem is set on nodes that cannot be keyed reliably.
	problem string
}

// Backend implements harvest.Backend for DCAT.
type Backend struct {
	client *backend.Client
	norm   harvest.Normalizers
	blobs  BlobStore
	cfg    Config
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]map[string]*Record // run key -> remote id -> record
}

// New creates a DCAT backend. blobs may be nil, in which case every page
// is kept inline.
func New(client *backend.Client, norm harvest.Normalizers, blobs BlobStore, cfg Config) *Backend {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultConfig().MaxPages
	}
	if cfg.MaxInlineGraphBytes <= 0 {
		cfg.MaxInlineGraphBytes = DefaultConfig().MaxInlineGraphBytes
	}
	return &Backend{
		client: client,
		norm:   norm,
		blobs:  blobs,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		cache:  make(map[string]map[string]*Record),
	}
}

func (b *Backend) Info() harvest.BackendInfo {
	return harvest.BackendInfo{
		Kind:        entity.BackendDCAT,
		DisplayName: "DCAT",
		Filters: []harvest.FilterDef{
			{Key: "tags", Label: "Keyword", Description: "A dcat:keyword value"},
			{Key: "theme", Label: "Theme", Description: "A dcat:theme IRI or label"},
		},
	}
}

// ListRemoteIDs fetches every catalog page, records it as a graph reference
// and caches the dataset nodes for FetchRemoteRecord.
func (b *Backend) ListRemoteIDs(ctx context.Context, src *entity.HarvestSource) (*harvest.Listing, error) {
	logger := logging.FromContext(ctx)
	listing := &harvest.Listing{Attributes: make(map[string]map[string][]string)}
	records := make(map[string]*Record)
	stamp := b.now().Format("20060102T150405Z")
	visited := make(map[string]bool)

	next := src.URL
	for page := 0; next != "" && page < b.cfg.MaxPages; page++ {
		if visited[next] {
			break
		}
		visited[next] = true

		resp, err := b.client.Get(ctx, next, acceptHeader, "catalog")
		if err != nil {
			return nil, &harvest.EnumerationError{URL: next, Err: err}
		}
		format, formatName, err := detectFormat(resp.ContentType, next, resp.Body)
		if err != nil {
			return nil, &harvest.EnumerationError{URL: next, Err: err}
		}
		g, err := decodeGraph(resp.Body, format)
		if err != nil {
			return nil, &harvest.EnumerationError{URL: next, Err: fmt.Errorf("decode graph: %w", err)}
		}

		listing.Graphs = append(listing.Graphs, b.graphRef(ctx, src, stamp, page, next, formatName, resp))

		for _, subject := range g.ofType(dcatDataset) {
			rec := &Record{Subject: subject, graph: g}
			id := g.value(subject, dctIdentifier)
			switch {
			case id != "":
			case isIRI(subject):
				id = subject
			default:
				// blank node labels are only unique within one page
				id = fmt.Sprintf("page-%d/%s", page, subject)
				rec.problem = "dataset has no dct:identifier and no IRI"
			}
			if prev, dup := records[id]; dup {
				if prev.Subject == subject {
					continue
				}
				rec.problem = fmt.Sprintf("dct:identifier %q is already used by %s", id, prev.Subject)
				id = fmt.Sprintf("page-%d/%s", page, subject)
				if _, taken := records[id]; taken {
					logger.Warn("dcat dataset listed twice on one page", slog.String("subject", subject))
					continue
				}
			}
			records[id] = rec
			listing.IDs = append(listing.IDs, id)
			listing.Attributes[id] = attributes(g, subject)
		}

		next = resolve(next, g.next())
	}

	b.mu.Lock()
	b.cache[runKey(ctx, src)] = records
	b.mu.Unlock()
	return listing, nil
}

// FinishRun drops the graphs cached for the run.
func (b *Backend) FinishRun(ctx context.Context, src *entity.HarvestSource) {
	b.mu.Lock()
	delete(b.cache, runKey(ctx, src))
	b.mu.Unlock()
}

// runKey separates concurrent runs of one source, such as a preview
// during a scheduled harvest.
func runKey(ctx context.Context, src *entity.HarvestSource) string {
	return src.ID + "/" + harvest.RunInfoFromContext(ctx).JobID
}

func (b *Backend) graphRef(ctx context.Context, src *entity.HarvestSource, stamp string, page int, pageURL, format string, resp *backend.Response) entity.GraphRef {
	ref := entity.GraphRef{Page: page, URL: pageURL, Format: format, Size: len(resp.Body)}
	if len(resp.Body) <= b.cfg.MaxInlineGraphBytes || b.blobs == nil {
		ref.Inline = string(resp.Body)
		return ref
	}
	if harvest.RunInfoFromContext(ctx).Preview {
		return ref
	}
	key := fmt.Sprintf("graphs/%s/%s/page-%04d.%s", src.ID, stamp, page, format)
	if err := b.blobs.Put(ctx, key, resp.Body, resp.ContentType); err != nil {
		logging.FromContext(ctx).Warn("graph page upload failed, keeping reference only",
			slog.String("key", key), slog.Any("error", err))
		return ref
	}
	ref.BlobKey = key
	return ref
}

func attributes(g *graph, subject string) map[string][]string {
	attrs := map[string][]string{"tags": g.values(subject, dcatKeyword)}
	for _, o := range g.objects(subject, dcatTheme) {
		attrs["theme"] = append(attrs["theme"], o.String())
		if l := g.label(o); l != "" && l != o.String() {
			attrs["theme"] = append(attrs["theme"], l)
		}
	}
	return attrs
}

// FetchRemoteRecord serves the dataset from the enumeration cache, or
// dereferences the id when it is an IRI.
func (b *Backend) FetchRemoteRecord(ctx context.Context, src *entity.HarvestSource, id string) (*harvest.RemoteRecord, error) {
	b.mu.Lock()
	r, ok := b.cache[runKey(ctx, src)][id]
	b.mu.Unlock()

	if !ok {
		if !isIRI(id) {
			return nil, &harvest.RemoteFetchError{RemoteID: id, NotFound: true}
		}
		var err error
		if r, err = b.dereference(ctx, id); err != nil {
			return nil, err
		}
	}

	if r.problem != "" {
		return nil, &harvest.MalformedRecordError{RemoteID: id, Fields: entity.ValidationErrors{
			{Path: "identifier", Message: r.problem},
		}}
	}
	if r.graph.value(r.Subject, dctTitle) == "" {
		return nil, &harvest.MalformedRecordError{RemoteID: id, Fields: entity.ValidationErrors{
			{Path: "title", Message: "dct:title is required"},
		}}
	}
	rec := &harvest.RemoteRecord{RemoteID: id, Raw: r}
	if isIRI(r.Subject) {
		rec.URL = r.Subject
	}
	return rec, nil
}

func (b *Backend) dereference(ctx context.Context, iri string) (*Record, error) {
	resp, err := b.client.Get(ctx, iri, acceptHeader, "dataset")
	if err != nil {
		status := backend.Status(err)
		return nil, &harvest.RemoteFetchError{RemoteID: iri, Status: status, NotFound: status == 404, Err: err}
	}
	format, _, err := detectFormat(resp.ContentType, iri, resp.Body)
	if err != nil {
		return nil, &harvest.RemoteFetchError{RemoteID: iri, Status: resp.Status, Err: err}
	}
	g, err := decodeGraph(resp.Body, format)
	if err != nil {
		return nil, &harvest.MalformedRecordError{RemoteID: iri, Fields: entity.ValidationErrors{
			{Message: "cannot decode graph: " + err.Error()},
		}}
	}
	if _, ok := g.bySubject[iri]; !ok {
		return nil, &harvest.RemoteFetchError{RemoteID: iri, NotFound: true}
	}
	return &Record{Subject: iri, graph: g}, nil
}

// resolve makes a hydra link absolute against the page it was found on.
func resolve(base, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return u.ResolveReference(r).String()
}
