// Package notify dispatches harvest events to the configured notification
// channels without ever blocking or failing the harvest that produced them.
package notify

import (
	"context"

	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/infra/notifier"
)

// Channel is one delivery channel (slack, amqp, mail). Implementations
// handle rate limiting and retries and must be safe for concurrent use.
type Channel interface {
	// Name is the lowercase identifier used in logs and metric labels.
	Name() string
	IsEnabled() bool
	Send(ctx context.Context, src *entity.HarvestSource, events []entity.Event) error
}

// NotifierChannel adapts an infrastructure notifier to Channel.
type NotifierChannel struct {
	name     string
	notifier notifier.Notifier
	enabled  bool
}

// NewChannel wraps n under name. A disabled channel uses the no-op
// notifier.
func NewChannel(name string, n notifier.Notifier, enabled bool) *NotifierChannel {
	if !enabled || n == nil {
		n, enabled = notifier.NewNoOpNotifier(), false
	}
	return &NotifierChannel{name: name, notifier: n, enabled: enabled}
}

func (c *NotifierChannel) Name() string { return c.name }

func (c *NotifierChannel) IsEnabled() bool { return c.enabled }

func (c *NotifierChannel) Send(ctx context.Context, src *entity.HarvestSource, events []entity.Event) error {
	if !c.enabled {
		return ErrChannelDisabled
	}
	if len(events) == 0 {
		return ErrNoEvents
	}
	return c.notifier.Notify(ctx, src, events)
}
