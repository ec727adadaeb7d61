package circuitbreaker

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRemote = errors.New("remote catalog unavailable")

func fail() (string, error) { return "", errRemote }
func ok() (string, error)   { return "package", nil }

func testConfig(timeout time.Duration) Config {
	return Config{
		Name:             "test",
		MaxRequests:      1,
		Interval:         10 * time.Second,
		Timeout:          timeout,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

/*────────────────────  Do  ────────────────────*/

func TestDo_PassesThroughResultAndError(t *testing.T) {
	cb := New(testConfig(time.Second))
	assert.Equal(t, "test", cb.Name())

	v, err := Do(cb, ok)
	require.NoError(t, err)
	assert.Equal(t, "package", v)

	v, err = Do(cb, fail)
	assert.ErrorIs(t, err, errRemote)
	assert.Empty(t, v)
}

func TestDo_TripsAfterThreshold(t *testing.T) {
	cb := New(testConfig(time.Minute))

	// 4 failures, 1 success: below MinRequests at each failure
	for i := 0; i < 4; i++ {
		_, _ = Do(cb, fail)
	}
	_, _ = Do(cb, ok)
	assert.False(t, cb.IsOpen())

	// 6 requests, 5 failures: 83% >= 60%
	_, err := Do(cb, fail)
	assert.ErrorIs(t, err, errRemote)
	assert.True(t, cb.IsOpen())

	called := false
	_, err = Do(cb, func() (string, error) {
		called = true
		return "", nil
	})
	assert.False(t, called)
	assert.True(t, IsOpenError(err))
}

func TestDo_MinRequestsKeepsClosed(t *testing.T) {
	cb := New(testConfig(time.Minute))
	for i := 0; i < 4; i++ {
		_, _ = Do(cb, fail)
	}
	assert.False(t, cb.IsOpen(), "all failed but fewer than MinRequests")
}

func TestDo_HalfOpenProbeCloses(t *testing.T) {
	cb := New(testConfig(50 * time.Millisecond))
	for i := 0; i < 5; i++ {
		_, _ = Do(cb, fail)
	}
	require.True(t, cb.IsOpen())

	time.Sleep(80 * time.Millisecond)
	v, err := Do(cb, ok)
	require.NoError(t, err)
	assert.Equal(t, "package", v)
	assert.False(t, cb.IsOpen())
}

func TestIsSuccessful_IgnoredErrorsDoNotTrip(t *testing.T) {
	notFound := errors.New("404 for one dataset")
	cfg := testConfig(time.Minute)
	cfg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, notFound) }
	cb := New(cfg)

	for i := 0; i < 20; i++ {
		_, err := Do(cb, func() (int, error) { return 0, fmt.Errorf("fetch: %w", notFound) })
		assert.ErrorIs(t, err, notFound)
	}
	assert.False(t, cb.IsOpen())
}

func TestIsOpenError(t *testing.T) {
	assert.True(t, IsOpenError(gobreaker.ErrOpenState))
	assert.True(t, IsOpenError(fmt.Errorf("ckan: %w", gobreaker.ErrTooManyRequests)))
	assert.False(t, IsOpenError(errRemote))
	assert.False(t, IsOpenError(nil))
}

/*────────────────────  policies  ────────────────────*/

func TestPolicies(t *testing.T) {
	assert.Equal(t, "backend-ckan", BackendConfig("ckan").Name)
	assert.Equal(t, "notify-slack", NotifierConfig("slack").Name)
	assert.Equal(t, "schema-catalog", SchemaCatalogConfig().Name)

	// one bad record must not trip a backend shared by many sources
	assert.GreaterOrEqual(t, BackendConfig("dcat").MinRequests, uint32(10))
	assert.Equal(t, 1.0, SchemaCatalogConfig().FailureThreshold)
}
