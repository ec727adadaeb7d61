package config

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConfigMetrics exposes how a component's configuration was loaded:
//
//	{component}_config_load_timestamp
//	{component}_config_validation_errors_total{field}
//	{component}_config_fallbacks_total{field}
//	{component}_config_fallback_active
//
// They live on the default registry, so each component name may be
// registered once per process.
type ConfigMetrics struct {
	LoadTimestamp         prometheus.Gauge
	ValidationErrorsTotal *prometheus.CounterVec
	FallbacksTotal        *prometheus.CounterVec
	FallbackActive        prometheus.Gauge
}

// NewConfigMetrics registers the metrics of component.
func NewConfigMetrics(component string) *ConfigMetrics {
	name := func(suffix string) string { return component + "_config_" + suffix }
	return &ConfigMetrics{
		LoadTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: name("load_timestamp"),
			Help: "Unix time of the last " + component + " configuration load",
		}),
		ValidationErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: name("validation_errors_total"),
			Help: "Invalid " + component + " settings, by field",
		}, []string{"field"}),
		FallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: name("fallbacks_total"),
			Help: component + " settings replaced by their default, by field",
		}, []string{"field"}),
		FallbackActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: name("fallback_active"),
			Help: "1 while any " + component + " setting runs on its default after a validation error",
		}),
	}
}

// fieldRejected counts an invalid value replaced by its default.
func (m *ConfigMetrics) fieldRejected(field string) {
	m.ValidationErrorsTotal.WithLabelValues(field).Inc()
	m.FallbacksTotal.WithLabelValues(field).Inc()
}

// loaded publishes the outcome of a full load.
func (m *ConfigMetrics) loaded(fallback bool) {
	v := 0.0
	if fallback {
		v = 1
	}
	m.FallbackActive.Set(v)
	m.LoadTimestamp.SetToCurrentTime()
}
