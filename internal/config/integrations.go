// Package config loads the settings of the harvester's external
// integrations from the environment and source definitions from YAML.
package config

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	loader "udata-harvest/internal/pkg/config"
	envconfig "udata-harvest/pkg/config"

	"udata-harvest/internal/infra/backend"
	"udata-harvest/internal/infra/backend/dcat"
	"udata-harvest/internal/infra/blobstore"
	"udata-harvest/internal/infra/notifier"
	"udata-harvest/internal/infra/schemacatalog"
)

// IntegrationsConfig gathers the settings of every remote system the
// harvester talks to.
type IntegrationsConfig struct {
	// Backend configures HTTP calls to remote catalogs.
	Backend backend.Config

	// DCAT configures catalog pagination and graph offloading.
	DCAT dcat.Config

	// SchemaCatalog locates the schema catalog used to validate resource
	// schema references.
	SchemaCatalog SchemaCatalogConfig

	// BlobStore is nil when MINIO_ENDPOINT is unset; oversized DCAT graphs
	// are then only recorded by size.
	BlobStore *blobstore.Config

	Slack notifier.SlackConfig
	AMQP  notifier.AMQPConfig
	Mail  notifier.MailConfig
}

// SchemaCatalogConfig locates the schema catalog.
type SchemaCatalogConfig struct {
	// URL of the catalog document. Default: schema.data.gouv.fr
	URL string
	// TTL before a cached catalog is refreshed. Default: 1h
	TTL time.Duration
	// Timeout of one download. Default: 30s
	Timeout time.Duration
}

// LoadIntegrationsConfig reads every integration setting. Invalid values
// fall back to defaults with a warning; misconfigured notification
// channels are disabled rather than failing startup.
func LoadIntegrationsConfig(logger *slog.Logger) *IntegrationsConfig {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrationsConfig{
		Backend:       loadBackendConfig(logger),
		DCAT:          loadDCATConfig(),
		SchemaCatalog: loadSchemaCatalogConfig(logger),
		BlobStore:     LoadBlobStoreConfig(),
		Slack:         LoadSlackConfig(logger),
		AMQP:          LoadAMQPConfig(logger),
		Mail:          LoadMailConfig(logger),
	}
}

// loadBackendConfig reads HARVEST_HTTP_TIMEOUT, HARVEST_HTTP_MAX_BODY_BYTES,
// HARVEST_HTTP_RATE_PER_HOST and HARVEST_HTTP_BURST.
func loadBackendConfig(logger *slog.Logger) backend.Config {
	def := backend.DefaultConfig()
	cfg := backend.Config{
		Timeout:     envconfig.GetEnvDuration("HARVEST_HTTP_TIMEOUT", def.Timeout),
		MaxBodySize: int64(envconfig.GetEnvInt("HARVEST_HTTP_MAX_BODY_BYTES", int(def.MaxBodySize))),
		RatePerHost: float64(envconfig.GetEnvInt("HARVEST_HTTP_RATE_PER_HOST", int(def.RatePerHost))),
		Burst:       envconfig.GetEnvInt("HARVEST_HTTP_BURST", def.Burst),
	}
	if err := envconfig.ValidateDurationRange(cfg.Timeout, time.Second, 10*time.Minute); err != nil {
		logger.Warn("invalid HARVEST_HTTP_TIMEOUT, using default", slog.Any("error", err))
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.RatePerHost <= 0 {
		cfg.RatePerHost = def.RatePerHost
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	return cfg
}

// loadDCATConfig reads HARVEST_MAX_INLINE_GRAPH_BYTES and HARVEST_DCAT_MAX_PAGES.
func loadDCATConfig() dcat.Config {
	def := dcat.DefaultConfig()
	return dcat.Config{
		MaxPages:            envconfig.GetEnvInt("HARVEST_DCAT_MAX_PAGES", def.MaxPages),
		MaxInlineGraphBytes: envconfig.GetEnvInt("HARVEST_MAX_INLINE_GRAPH_BYTES", def.MaxInlineGraphBytes),
	}
}

// loadSchemaCatalogConfig reads SCHEMA_CATALOG_URL, SCHEMA_CATALOG_TTL and
// SCHEMA_CATALOG_TIMEOUT.
func loadSchemaCatalogConfig(logger *slog.Logger) SchemaCatalogConfig {
	cfg := SchemaCatalogConfig{
		URL:     envconfig.GetEnvString("SCHEMA_CATALOG_URL", schemacatalog.DefaultURL),
		TTL:     envconfig.GetEnvDuration("SCHEMA_CATALOG_TTL", time.Hour),
		Timeout: envconfig.GetEnvDuration("SCHEMA_CATALOG_TIMEOUT", 30*time.Second),
	}
	if err := loader.ValidateHTTPURL(cfg.URL); err != nil {
		logger.Warn("invalid SCHEMA_CATALOG_URL, using default", slog.String("error", err.Error()))
		cfg.URL = schemacatalog.DefaultURL
	}
	if err := envconfig.ValidatePositiveDuration(cfg.TTL); err != nil {
		cfg.TTL = time.Hour
	}
	return cfg
}

// LoadBlobStoreConfig reads MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY,
// MINIO_BUCKET (default "harvest-graphs"), MINIO_REGION and MINIO_USE_SSL.
// It returns nil when no endpoint is configured.
func LoadBlobStoreConfig() *blobstore.Config {
	endpoint := envconfig.GetEnvString("MINIO_ENDPOINT", "")
	if endpoint == "" {
		return nil
	}
	return &blobstore.Config{
		Endpoint:  endpoint,
		AccessKey: envconfig.GetEnvString("MINIO_ACCESS_KEY", ""),
		SecretKey: envconfig.GetEnvString("MINIO_SECRET_KEY", ""),
		Bucket:    envconfig.GetEnvString("MINIO_BUCKET", "harvest-graphs"),
		Region:    envconfig.GetEnvString("MINIO_REGION", ""),
		UseSSL:    envconfig.GetEnvBool("MINIO_USE_SSL", true),
	}
}

// LoadSlackConfig reads SLACK_ENABLED, SLACK_WEBHOOK_URL and
// SLACK_ONLY_ATTENTION. The channel is disabled when the webhook URL is
// not an https://hooks.slack.com/services/ URL.
func LoadSlackConfig(logger *slog.Logger) notifier.SlackConfig {
	if !envconfig.GetEnvBool("SLACK_ENABLED", false) {
		return notifier.SlackConfig{Enabled: false}
	}
	webhookURL := envconfig.GetEnvString("SLACK_WEBHOOK_URL", "")
	if webhookURL == "" {
		logger.Warn("Slack webhook URL is empty, disabling notifications")
		return notifier.SlackConfig{Enabled: false}
	}

	u, err := url.Parse(webhookURL)
	if err != nil {
		logger.Warn("Invalid Slack webhook URL format, disabling notifications")
		return notifier.SlackConfig{Enabled: false}
	}
	if u.Scheme != "https" {
		logger.Warn("Slack webhook URL must use HTTPS, disabling notifications")
		return notifier.SlackConfig{Enabled: false}
	}
	if u.Host != "hooks.slack.com" {
		logger.Warn("Invalid Slack webhook host, disabling notifications", slog.String("host", u.Host))
		return notifier.SlackConfig{Enabled: false}
	}
	if !strings.HasPrefix(u.Path, "/services/") {
		logger.Warn("Invalid Slack webhook path, disabling notifications")
		return notifier.SlackConfig{Enabled: false}
	}

	return notifier.SlackConfig{
		Enabled:       true,
		WebhookURL:    webhookURL,
		Timeout:       30 * time.Second,
		OnlyAttention: envconfig.GetEnvBool("SLACK_ONLY_ATTENTION", false),
	}
}

// LoadAMQPConfig reads AMQP_URL and AMQP_EXCHANGE (default "udata.harvest").
// The channel is enabled when AMQP_URL is set to an amqp:// or amqps:// URL.
func LoadAMQPConfig(logger *slog.Logger) notifier.AMQPConfig {
	raw := envconfig.GetEnvString("AMQP_URL", "")
	if raw == "" {
		return notifier.AMQPConfig{Enabled: false}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
		logger.Warn("AMQP_URL must use the amqp or amqps scheme, disabling event publishing")
		return notifier.AMQPConfig{Enabled: false}
	}
	return notifier.AMQPConfig{
		Enabled:        true,
		URL:            raw,
		Exchange:       envconfig.GetEnvString("AMQP_EXCHANGE", "udata.harvest"),
		PublishTimeout: envconfig.GetEnvDuration("AMQP_PUBLISH_TIMEOUT", 5*time.Second),
	}
}

// LoadMailConfig reads SMTP_ENABLED, SMTP_HOST, SMTP_PORT (587), SMTP_USER,
// SMTP_PASS, SMTP_FROM, SMTP_TO (comma separated) and SMTP_SKIP_TLS_VERIFY.
func LoadMailConfig(logger *slog.Logger) notifier.MailConfig {
	if !envconfig.GetEnvBool("SMTP_ENABLED", false) {
		return notifier.MailConfig{Enabled: false}
	}
	cfg := notifier.MailConfig{
		Enabled:       true,
		Host:          envconfig.GetEnvString("SMTP_HOST", ""),
		Port:          envconfig.GetEnvInt("SMTP_PORT", 587),
		User:          envconfig.GetEnvString("SMTP_USER", ""),
		Pass:          envconfig.GetEnvString("SMTP_PASS", ""),
		From:          envconfig.GetEnvString("SMTP_FROM", ""),
		To:            envconfig.GetEnvStringList("SMTP_TO", nil),
		SkipTLSVerify: envconfig.GetEnvBool("SMTP_SKIP_TLS_VERIFY", false),
	}
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		logger.Warn("SMTP_HOST, SMTP_FROM and SMTP_TO are required, disabling e-mail notifications")
		return notifier.MailConfig{Enabled: false}
	}
	return cfg
}
