package event

import (
	"context"

	"github.com/jwalitptl/medbooking/pkg/logger"
)

// Emit publishes evts in order. Publish failures are logged and dropped;
// they never reach the caller.
func Emit(ctx context.Context, bus Bus, log *logger.Logger, evts ...Event) {
	for _, evt := range evts {
		if err := bus.Publish(ctx, evt); err != nil {
			log.Error(err, "failed to publish event", "event", evt.Name, "entity_id", evt.EntityID)
		}
	}
}
