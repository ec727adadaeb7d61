package notify

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"udata-harvest/internal/domain/entity"
)

func TestRecordDelivery(t *testing.T) {
	tests := []struct {
		channel, outcome string
	}{
		{"slack", outcomeSuccess},
		{"slack", outcomeFailure},
		{"amqp", outcomeCircuitOpen},
		{"mail", outcomePoolFull},
		{"mail", outcomeShutdown},
	}
	for _, tt := range tests {
		before := testutil.ToFloat64(deliveriesTotal.WithLabelValues(tt.channel, tt.outcome))
		recordDelivery(tt.channel, tt.outcome, time.Second)
		assert.Equal(t, before+1, testutil.ToFloat64(deliveriesTotal.WithLabelValues(tt.channel, tt.outcome)), tt.outcome)
	}
}

func TestRecordDelivery_DroppedIsNotTimed(t *testing.T) {
	before := testutil.CollectAndCount(deliveryDuration)
	recordDelivery("metrics-test-channel", outcomeShutdown, 0)
	assert.Equal(t, before, testutil.CollectAndCount(deliveryDuration))

	recordDelivery("metrics-test-channel", outcomeSuccess, time.Second)
	assert.Equal(t, before+1, testutil.CollectAndCount(deliveryDuration))
}

func TestRecordEvents(t *testing.T) {
	created := testutil.ToFloat64(eventsPublished.WithLabelValues(string(entity.EventDatasetCreated)))
	finished := testutil.ToFloat64(eventsPublished.WithLabelValues(string(entity.EventJobFinished)))

	recordEvents([]entity.Event{
		{Type: entity.EventDatasetCreated},
		{Type: entity.EventDatasetCreated},
		{Type: entity.EventJobFinished},
	})

	assert.Equal(t, created+2, testutil.ToFloat64(eventsPublished.WithLabelValues(string(entity.EventDatasetCreated))))
	assert.Equal(t, finished+1, testutil.ToFloat64(eventsPublished.WithLabelValues(string(entity.EventJobFinished))))
}
