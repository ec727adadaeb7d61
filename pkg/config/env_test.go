package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("T_STRING", " hello ")
	t.Setenv("T_INT", "42")
	t.Setenv("T_BAD_INT", "forty")
	t.Setenv("T_BOOL", "TRUE")
	t.Setenv("T_BAD_BOOL", "yes please")
	t.Setenv("T_DURATION", "90s")
	t.Setenv("T_LIST", "a@example.org, ,b@example.org,")
	t.Setenv("T_EMPTY_LIST", " , ")

	assert.Equal(t, "hello", GetEnvString("T_STRING", "x"))
	assert.Equal(t, "x", GetEnvString("T_UNSET", "x"))
	assert.Equal(t, 42, GetEnvInt("T_INT", 1))
	assert.Equal(t, 1, GetEnvInt("T_BAD_INT", 1))
	assert.True(t, GetEnvBool("T_BOOL", false))
	assert.True(t, GetEnvBool("T_BAD_BOOL", true))
	assert.Equal(t, 90*time.Second, GetEnvDuration("T_DURATION", time.Second))
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, GetEnvStringList("T_LIST", nil))
	assert.Equal(t, []string{"default"}, GetEnvStringList("T_EMPTY_LIST", []string{"default"}))
}

func TestValidateDurationRange(t *testing.T) {
	tests := []struct {
		name    string
		d       time.Duration
		wantErr bool
	}{
		{"below", 500 * time.Millisecond, true},
		{"min", time.Second, false},
		{"inside", 30 * time.Second, false},
		{"max", time.Minute, false},
		{"above", 2 * time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDurationRange(tt.d, time.Second, time.Minute)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}

	assert.Error(t, ValidateDurationRange(time.Second, time.Minute, time.Second))
	assert.Error(t, ValidatePositiveDuration(0))
	assert.NoError(t, ValidatePositiveDuration(time.Nanosecond))
}
