// Package config reads optional settings of external integrations from the
// environment. Unset variables yield the default; unparsable ones yield the
// default and a warning, so a typo never prevents the harvester from starting.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup parses the variable named key with parse. The default is returned
// when the variable is unset or blank, or when parse fails.
func lookup[T any](key string, defaultValue T, kind string, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	v, err := parse(raw)
	if err != nil {
		slog.Warn("invalid "+kind+" value for environment variable, using default",
			slog.String("key", key),
			slog.String("value", raw),
			slog.Any("default", defaultValue))
		return defaultValue
	}
	return v
}

// GetEnvString returns the variable or defaultValue when unset.
func GetEnvString(key, defaultValue string) string {
	return lookup(key, defaultValue, "string", func(s string) (string, error) { return s, nil })
}

// GetEnvInt returns the variable as a base-10 integer.
func GetEnvInt(key string, defaultValue int) int {
	return lookup(key, defaultValue, "integer", strconv.Atoi)
}

// GetEnvBool accepts the forms understood by strconv.ParseBool.
func GetEnvBool(key string, defaultValue bool) bool {
	return lookup(key, defaultValue, "boolean", strconv.ParseBool)
}

// GetEnvDuration accepts Go duration strings ("30s", "2h45m").
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return lookup(key, defaultValue, "duration", time.ParseDuration)
}

// GetEnvStringList splits a comma-separated variable, dropping empty
// entries. A variable with no entries yields defaultValue.
//
//	SMTP_TO="ops@example.org, data@example.org"
func GetEnvStringList(key string, defaultValue []string) []string {
	list := lookup(key, nil, "list", func(s string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	})
	if len(list) == 0 {
		return defaultValue
	}
	return list
}
