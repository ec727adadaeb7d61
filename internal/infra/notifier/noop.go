package notifier

import (
	"context"

	"udata-harvest/internal/domain/entity"
)

// NoOpNotifier discards everything. It stands in for disabled channels.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier instance.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

func (n *NoOpNotifier) Notify(context.Context, *entity.HarvestSource, []entity.Event) error {
	return nil
}
