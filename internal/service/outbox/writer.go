// Package outbox stages domain events as rows written in the caller's
// transaction. The relay worker publishes them once committed.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/repository"
	"github.com/jwalitptl/medbooking/pkg/event"
)

type Writer struct {
	repo repository.OutboxRepository
}

func NewWriter(repo repository.OutboxRepository) *Writer {
	return &Writer{repo: repo}
}

// Stage persists evts in order. Called inside WithinTx, the rows commit or
// roll back together with the state change that produced them.
func (w *Writer) Stage(ctx context.Context, evts ...event.Event) error {
	for _, evt := range evts {
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", evt.Name, err)
		}
		row := &model.OutboxEvent{
			ID:        evt.ID,
			EventType: evt.Name,
			Payload:   payload,
			Status:    model.OutboxStatusPending,
		}
		if err := w.repo.Create(ctx, row); err != nil {
			return fmt.Errorf("failed to create outbox event: %w", err)
		}
	}
	return nil
}

// Decode turns a stored row back into the event it was staged from.
func Decode(row *model.OutboxEvent) (event.Event, error) {
	var evt event.Event
	if err := json.Unmarshal(row.Payload, &evt); err != nil {
		return event.Event{}, fmt.Errorf("failed to decode outbox event %s: %w", row.ID, err)
	}
	if evt.Name == "" {
		evt.Name = row.EventType
	}
	return evt, nil
}
