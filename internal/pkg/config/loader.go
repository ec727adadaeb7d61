// Package config provides fail-open environment configuration loading.
//
// Every loader returns a usable value: when a variable is missing the default
// is used silently, when it is present but invalid the default is used and a
// warning is produced. Loader wraps the individual functions so a component can
// load all of its fields while logging and counting fallbacks in one place.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// ConfigLoadResult is the outcome of loading one configuration value.
type ConfigLoadResult struct {
	Value           interface{}
	Warnings        []string
	FallbackApplied bool
}

func fallback(envKey, raw string, err error, def interface{}) ConfigLoadResult {
	return ConfigLoadResult{
		Value:           def,
		Warnings:        []string{fmt.Sprintf("Invalid %s='%s': %v, falling back to default '%v'", envKey, raw, err, def)},
		FallbackApplied: true,
	}
}

// LoadEnvString returns the variable value, or defaultValue when unset or empty.
func LoadEnvString(envKey, defaultValue string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	return defaultValue
}

// LoadEnvWithFallback loads a string validated by validator (may be nil).
//
//	result := LoadEnvWithFallback("SOURCE_RELOAD_SCHEDULE", "*/5 * * * *", ValidateCronSchedule)
//	schedule := result.Value.(string)
func LoadEnvWithFallback(envKey, defaultValue string, validator func(string) error) ConfigLoadResult {
	value := os.Getenv(envKey)
	if value == "" {
		return ConfigLoadResult{Value: defaultValue}
	}
	if validator != nil {
		if err := validator(value); err != nil {
			return fallback(envKey, value, err, defaultValue)
		}
	}
	return ConfigLoadResult{Value: value}
}

// LoadEnvDuration loads a time.ParseDuration value validated by validator.
func LoadEnvDuration(envKey string, defaultValue time.Duration, validator func(time.Duration) error) ConfigLoadResult {
	raw := os.Getenv(envKey)
	if raw == "" {
		return ConfigLoadResult{Value: defaultValue}
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback(envKey, raw, fmt.Errorf("invalid duration format"), defaultValue)
	}
	if validator != nil {
		if err := validator(d); err != nil {
			return fallback(envKey, raw, err, defaultValue)
		}
	}
	return ConfigLoadResult{Value: d}
}

// LoadEnvInt loads an integer validated by validator.
func LoadEnvInt(envKey string, defaultValue int, validator func(int) error) ConfigLoadResult {
	raw := os.Getenv(envKey)
	if raw == "" {
		return ConfigLoadResult{Value: defaultValue}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback(envKey, raw, fmt.Errorf("invalid integer format"), defaultValue)
	}
	if validator != nil {
		if err := validator(n); err != nil {
			return fallback(envKey, raw, err, defaultValue)
		}
	}
	return ConfigLoadResult{Value: n}
}

// LoadEnvBool loads a strconv.ParseBool value.
func LoadEnvBool(envKey string, defaultValue bool) ConfigLoadResult {
	raw := os.Getenv(envKey)
	if raw == "" {
		return ConfigLoadResult{Value: defaultValue}
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback(envKey, raw, fmt.Errorf("invalid boolean format, expected 'true' or 'false'"), defaultValue)
	}
	return ConfigLoadResult{Value: b}
}

// Loader loads several fields of a component, logging each fallback and
// recording it in the component's ConfigMetrics (metrics may be nil).
type Loader struct {
	logger   *slog.Logger
	metrics  *ConfigMetrics
	fallback bool
}

// NewLoader creates a Loader.
func NewLoader(logger *slog.Logger, metrics *ConfigMetrics) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, metrics: metrics}
}

func (l *Loader) record(field string, result ConfigLoadResult) {
	if !result.FallbackApplied {
		return
	}
	l.fallback = true
	if l.metrics != nil {
		l.metrics.fieldRejected(field)
	}
	for _, warning := range result.Warnings {
		l.logger.Warn("Configuration fallback applied",
			slog.String("field", field),
			slog.String("warning", warning))
	}
}

// String loads a validated string field.
func (l *Loader) String(field, envKey, def string, validator func(string) error) string {
	result := LoadEnvWithFallback(envKey, def, validator)
	l.record(field, result)
	return result.Value.(string)
}

// Int loads an integer field constrained to [min, max].
func (l *Loader) Int(field, envKey string, def, min, max int) int {
	result := LoadEnvInt(envKey, def, func(v int) error { return ValidateIntRange(v, min, max) })
	l.record(field, result)
	return result.Value.(int)
}

// Duration loads a duration field constrained to [min, max].
func (l *Loader) Duration(field, envKey string, def, min, max time.Duration) time.Duration {
	result := LoadEnvDuration(envKey, def, func(d time.Duration) error { return ValidateDuration(d, min, max) })
	l.record(field, result)
	return result.Value.(time.Duration)
}

// Bool loads a boolean field.
func (l *Loader) Bool(field, envKey string, def bool) bool {
	result := LoadEnvBool(envKey, def)
	l.record(field, result)
	return result.Value.(bool)
}

// Finish publishes the fallback state and load timestamp. It reports whether
// any field fell back to its default.
func (l *Loader) Finish() bool {
	if l.metrics != nil {
		l.metrics.loaded(l.fallback)
	}
	return l.fallback
}
