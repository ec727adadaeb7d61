package notify

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/observability/logging"
	"udata-harvest/internal/resilience/circuitbreaker"
)

const (
	workerPoolTimeout   = 5 * time.Second  // wait for a worker slot before dropping
	notificationTimeout = 60 * time.Second // one channel delivery, retries included
)

// Service dispatches events to every enabled channel. It satisfies
// harvest.EventPublisher.
type Service interface {
	// Publish hands events to the channels and returns immediately.
	// Failures are logged and counted, never returned.
	Publish(ctx context.Context, src *entity.HarvestSource, events []entity.Event) error

	// SourcePending announces a source waiting for validation.
	SourcePending(ctx context.Context, src *entity.HarvestSource) error

	GetChannelHealth() []ChannelHealthStatus

	// Shutdown waits for in-flight deliveries until ctx is done.
	Shutdown(ctx context.Context) error
}

// ChannelHealthStatus is the state of one channel, for health endpoints.
type ChannelHealthStatus struct {
	Name               string `json:"name"`
	Enabled            bool   `json:"enabled"`
	CircuitBreakerOpen bool   `json:"circuit_breaker_open"`
}

type service struct {
	channels   []Channel
	breakers   map[string]*circuitbreaker.CircuitBreaker
	workerPool chan struct{}
	now        func() time.Time

	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewService creates a dispatcher running at most maxConcurrent deliveries.
func NewService(channels []Channel, maxConcurrent int) Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	s := &service{
		channels:       channels,
		breakers:       make(map[string]*circuitbreaker.CircuitBreaker, len(channels)),
		workerPool:     make(chan struct{}, maxConcurrent),
		now:            func() time.Time { return time.Now().UTC() },
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}
	enabled := 0
	for _, ch := range channels {
		s.breakers[ch.Name()] = circuitbreaker.New(circuitbreaker.NotifierConfig(ch.Name()))
		if ch.IsEnabled() {
			enabled++
		}
	}
	channelsEnabled.Set(float64(enabled))
	return s
}

func (s *service) Publish(ctx context.Context, src *entity.HarvestSource, events []entity.Event) error {
	if src == nil {
		return ErrInvalidSource
	}
	if len(events) == 0 {
		return nil
	}

	requestID := logging.RunIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	batch := append([]entity.Event(nil), events...)
	recordEvents(batch)

	for _, ch := range s.channels {
		if !ch.IsEnabled() {
			continue
		}
		s.wg.Add(1)
		go s.deliver(requestID, ch, src, batch)
	}
	return nil
}

func (s *service) SourcePending(ctx context.Context, src *entity.HarvestSource) error {
	if src == nil {
		return ErrInvalidSource
	}
	return s.Publish(ctx, src, []entity.Event{{
		Type:     entity.EventSourcePending,
		SourceID: src.ID,
		Subject:  src.Slug,
		At:       s.now(),
	}})
}

func (s *service) deliver(requestID string, ch Channel, src *entity.HarvestSource, events []entity.Event) {
	defer s.wg.Done()
	inflightDeliveries.Inc()
	defer inflightDeliveries.Dec()

	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("channel", ch.Name()),
		slog.String("source_id", src.ID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in notification channel",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	select {
	case s.workerPool <- struct{}{}:
		defer func() { <-s.workerPool }()
	case <-time.After(workerPoolTimeout):
		logger.Warn("notification dropped: worker pool full")
		recordDelivery(ch.Name(), outcomePoolFull, 0)
		return
	case <-s.shutdownCtx.Done():
		recordDelivery(ch.Name(), outcomeShutdown, 0)
		return
	}

	ctx, cancel := context.WithTimeout(s.shutdownCtx, notificationTimeout)
	defer cancel()
	ctx = logging.ContextWithRunID(ctx, requestID)

	start := time.Now()
	_, err := circuitbreaker.Do(s.breakers[ch.Name()], func() (struct{}, error) {
		return struct{}{}, ch.Send(ctx, src, events)
	})
	duration := time.Since(start)

	switch {
	case circuitbreaker.IsOpenError(err):
		logger.Warn("channel temporarily disabled by circuit breaker")
		recordDelivery(ch.Name(), outcomeCircuitOpen, duration)
	case err != nil:
		recordDelivery(ch.Name(), outcomeFailure, duration)
		logger.Warn("channel notification failed",
			slog.Int("events", len(events)),
			slog.Duration("send_duration", duration),
			slog.String("error", logging.SanitizeError(err)))
	default:
		recordDelivery(ch.Name(), outcomeSuccess, duration)
		logger.Debug("channel notification sent",
			slog.Int("events", len(events)),
			slog.Duration("send_duration", duration))
	}
}

func (s *service) GetChannelHealth() []ChannelHealthStatus {
	statuses := make([]ChannelHealthStatus, 0, len(s.channels))
	for _, ch := range s.channels {
		statuses = append(statuses, ChannelHealthStatus{
			Name:               ch.Name(),
			Enabled:            ch.IsEnabled(),
			CircuitBreakerOpen: s.breakers[ch.Name()].IsOpen(),
		})
	}
	return statuses
}

func (s *service) Shutdown(ctx context.Context) error {
	slog.Info("shutting down notification service")
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.shutdownCancel()
		return nil
	case <-ctx.Done():
		s.shutdownCancel()
		slog.Warn("notification service shutdown timeout")
		return ctx.Err()
	}
}
