package port

import (
	"context"

	"github.com/rl1809/ticket-reservation/internal/core/domain"
)

// EventPublisher emits reservation lifecycle notifications to other services.
// Delivery is best effort; failures never undo an inventory change.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.LifecycleEvent) error
}
