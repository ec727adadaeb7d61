// Package app assembles the harvester from its configuration: repositories,
// backends with their normalizers, notification channels and the use cases.
// Both binaries build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"udata-harvest/internal/config"
	"udata-harvest/internal/domain/normalize"
	pgRepo "udata-harvest/internal/infra/adapter/persistence/postgres"
	"udata-harvest/internal/infra/backend"
	"udata-harvest/internal/infra/backend/ckan"
	"udata-harvest/internal/infra/backend/dcat"
	"udata-harvest/internal/infra/backend/dkan"
	"udata-harvest/internal/infra/blobstore"
	"udata-harvest/internal/infra/notifier"
	"udata-harvest/internal/infra/schemacatalog"
	"udata-harvest/internal/repository"
	"udata-harvest/internal/usecase/harvest"
	"udata-harvest/internal/usecase/notify"
	"udata-harvest/internal/usecase/source"
)

// Options select what New builds.
type Options struct {
	Harvest       harvest.Config
	Integrations  *config.IntegrationsConfig
	NotifyWorkers int

	// DisableNotifications builds the notification service without
	// channels, for one-off CLI commands.
	DisableNotifications bool
}

// App holds the wired components.
type App struct {
	DB       *sql.DB
	Registry *harvest.Registry
	Jobs     *harvest.JobStore
	Harvest  *harvest.Service
	Sources  *source.Service
	Datasets repository.DatasetRepository
	GeoZones repository.GeoZoneRepository
	Notify   notify.Service

	// Blobs is nil when no object storage is configured.
	Blobs *blobstore.Store

	amqp   *notifier.AMQPNotifier
	logger *slog.Logger
}

// New wires every component on top of db. Optional integrations that fail
// to initialise are logged and left out.
func New(ctx context.Context, db *sql.DB, opts Options, logger *slog.Logger) (*App, error) {
	if db == nil {
		return nil, errors.New("app: database is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Integrations
	if cfg == nil {
		cfg = config.LoadIntegrationsConfig(logger)
	}

	a := &App{
		DB:       db,
		Datasets: pgRepo.NewDatasetRepo(db),
		GeoZones: pgRepo.NewGeoZoneRepo(db),
		logger:   logger,
	}
	sourceRepo := pgRepo.NewSourceRepo(db)
	a.Jobs = harvest.NewJobStore(pgRepo.NewJobRepo(db))

	a.Blobs = a.openBlobStore(ctx, cfg.BlobStore)
	norm := harvest.Normalizers{
		Zones:   a.loadZones(ctx),
		Schemas: normalize.NewSchemaCache(schemacatalog.New(cfg.SchemaCatalog.URL, cfg.SchemaCatalog.Timeout), cfg.SchemaCatalog.TTL, logger),
	}

	var blobs dcat.BlobStore
	if a.Blobs != nil {
		blobs = a.Blobs
	}
	registry, err := harvest.NewRegistry(
		ckan.New(backend.NewClient("ckan", cfg.Backend), norm),
		dkan.New(backend.NewClient("dkan", cfg.Backend), norm),
		dcat.New(backend.NewClient("dcat", cfg.Backend), norm, blobs, cfg.DCAT),
	)
	if err != nil {
		return nil, err
	}
	a.Registry = registry

	var channels []notify.Channel
	if !opts.DisableNotifications {
		channels = a.buildChannels(cfg)
	}
	a.Notify = notify.NewService(channels, opts.NotifyWorkers)

	a.Sources = &source.Service{Repo: sourceRepo, Backends: registry, Notifier: a.Notify}
	a.Harvest = harvest.NewService(sourceRepo, a.Datasets, a.Jobs, registry, a.Notify, opts.Harvest)
	return a, nil
}

func (a *App) openBlobStore(ctx context.Context, cfg *blobstore.Config) *blobstore.Store {
	if cfg == nil {
		a.logger.Info("blob storage disabled, oversized graphs are recorded by size only")
		return nil
	}
	store, err := blobstore.New(*cfg)
	if err != nil {
		a.logger.Warn("blob storage unavailable", slog.Any("error", err))
		return nil
	}
	if err := store.EnsureBucket(ctx); err != nil {
		a.logger.Warn("blob storage bucket unavailable", slog.String("bucket", cfg.Bucket), slog.Any("error", err))
		return nil
	}
	a.logger.Info("blob storage enabled", slog.String("endpoint", cfg.Endpoint), slog.String("bucket", cfg.Bucket))
	return store
}

// loadZones builds the spatial index once per process. Without zones
// spatial coverage is simply left unresolved.
func (a *App) loadZones(ctx context.Context) *normalize.ZoneIndex {
	zones, err := a.GeoZones.List(ctx)
	if err != nil {
		a.logger.Warn("geozones unavailable, spatial coverage will not be resolved", slog.Any("error", err))
		return nil
	}
	ix := normalize.NewZoneIndex(zones)
	a.logger.Info("geozone index loaded", slog.Int("zones", ix.Len()))
	return ix
}

func (a *App) buildChannels(cfg *config.IntegrationsConfig) []notify.Channel {
	channels := []notify.Channel{
		notify.NewChannel("slack", notifier.NewSlackNotifier(cfg.Slack), cfg.Slack.Enabled),
	}

	if cfg.AMQP.Enabled {
		n, err := notifier.NewAMQPNotifier(cfg.AMQP)
		if err != nil {
			a.logger.Warn("amqp channel disabled", slog.Any("error", err))
		} else {
			a.amqp = n
			channels = append(channels, notify.NewChannel("amqp", n, true))
		}
	}

	if cfg.Mail.Enabled {
		n, err := notifier.NewMailNotifier(cfg.Mail)
		if err != nil {
			a.logger.Warn("mail channel disabled", slog.Any("error", err))
		} else {
			channels = append(channels, notify.NewChannel("mail", n, true))
		}
	}

	enabled := 0
	for _, ch := range channels {
		if ch.IsEnabled() {
			enabled++
		}
	}
	a.logger.Info("notification channels initialized",
		slog.Int("channels", len(channels)),
		slog.Int("enabled", enabled))
	return channels
}

// Checks returns the dependency probes used by readiness endpoints.
func (a *App) Checks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"database": a.DB.PingContext,
	}
	if a.Blobs != nil {
		checks["blobstore"] = a.Blobs.Ping
	}
	if a.amqp != nil {
		checks["amqp"] = a.amqp.Ping
	}
	return checks
}

// Close flushes pending notifications and releases broker connections.
// The database is owned by the caller.
func (a *App) Close(ctx context.Context) error {
	err := a.Notify.Shutdown(ctx)
	if a.amqp != nil {
		if cerr := a.amqp.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
