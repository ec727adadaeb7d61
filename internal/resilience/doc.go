// Package resilience provides reliability and fault tolerance patterns for the harvester.
//
// The package supports:
//   - Circuit breakers around remote catalog calls, the schema catalog and notification channels
//   - Retry logic with exponential backoff and jitter
//
// Remote record fetches are never retried within a run: the next scheduled
// run is the retry mechanism. Retries are reserved for the schema catalog,
// blob uploads and notifications.
//
// Usage Example:
//
//	cb := circuitbreaker.New(circuitbreaker.BackendConfig("ckan"))
//	body, err := circuitbreaker.Do(cb, func() ([]byte, error) {
//	    return fetch(ctx, url)
//	})
//
//	err := retry.WithBackoff(ctx, retry.SchemaCatalogConfig(), func() error {
//	    return refresh(ctx)
//	})
package resilience
