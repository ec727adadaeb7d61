package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConnectionConfig(t *testing.T) {
	cfg := DefaultConnectionConfig()

	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 10, cfg.MaxIdleConns)
	assert.Equal(t, 1*time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxIdleTime)
}

func TestLoadConnectionConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want ConnectionConfig
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: DefaultConnectionConfig(),
		},
		{
			name: "overrides",
			env: map[string]string{
				"DB_MAX_OPEN_CONNS":     "50",
				"DB_MAX_IDLE_CONNS":     "5",
				"DB_CONN_MAX_LIFETIME":  "2h",
				"DB_CONN_MAX_IDLE_TIME": "10m",
			},
			want: ConnectionConfig{MaxOpenConns: 50, MaxIdleConns: 5, ConnMaxLifetime: 2 * time.Hour, ConnMaxIdleTime: 10 * time.Minute},
		},
		{
			name: "invalid values fall back",
			env: map[string]string{
				"DB_MAX_OPEN_CONNS":    "-10",
				"DB_MAX_IDLE_CONNS":    "many",
				"DB_CONN_MAX_LIFETIME": "forever",
			},
			want: DefaultConnectionConfig(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME"} {
				t.Setenv(k, tt.env[k])
			}
			assert.Equal(t, tt.want, LoadConnectionConfig(nil))
		})
	}
}

func TestOpen_MissingDSN(t *testing.T) {
	_, err := Open(context.Background(), "", nil)
	assert.EqualError(t, err, "DATABASE_URL not set")
}
