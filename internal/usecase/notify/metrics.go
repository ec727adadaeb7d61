package notify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"udata-harvest/internal/domain/entity"
)

// Delivery outcomes. Dropped batches were never handed to the channel.
const (
	outcomeSuccess     = "success"
	outcomeFailure     = "failure"
	outcomePoolFull    = "dropped_pool_full"
	outcomeCircuitOpen = "dropped_circuit_open"
	outcomeShutdown    = "dropped_shutdown"
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_notify_deliveries_total",
		Help: "Event batches handed to a notification channel, by outcome",
	}, []string{"channel", "outcome"})

	deliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_notify_delivery_duration_seconds",
		Help:    "Time to deliver one batch to a channel, retries included",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"channel"})

	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_notify_events_total",
		Help: "Harvest events published, by event type",
	}, []string{"type"})

	inflightDeliveries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_notify_inflight",
		Help: "Deliveries waiting for or holding a worker slot",
	})

	channelsEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_notify_channels_enabled",
		Help: "Enabled notification channels",
	})
)

func recordDelivery(channel, outcome string, took time.Duration) {
	deliveriesTotal.WithLabelValues(channel, outcome).Inc()
	if outcome == outcomeSuccess || outcome == outcomeFailure {
		deliveryDuration.WithLabelValues(channel).Observe(took.Seconds())
	}
}

func recordEvents(events []entity.Event) {
	for _, e := range events {
		eventsPublished.WithLabelValues(string(e.Type)).Inc()
	}
}
