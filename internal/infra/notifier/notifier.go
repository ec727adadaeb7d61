// Package notifier delivers harvest events to outbound channels: a Slack
// webhook, a RabbitMQ topic exchange and e-mail.
package notifier

import (
	"context"

	"udata-harvest/internal/domain/entity"
)

// Notifier delivers the events of one run, or a single source event, for
// a source. Implementations handle rate limiting and retries internally.
type Notifier interface {
	Notify(ctx context.Context, src *entity.HarvestSource, events []entity.Event) error
}
