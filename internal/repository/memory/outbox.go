package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

type OutboxRepository struct {
	s *Store
}

func NewOutboxRepository(s *Store) *OutboxRepository {
	return &OutboxRepository{s: s}
}

func (r *OutboxRepository) Create(ctx context.Context, evt *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	now := time.Now().UTC()
	evt.CreatedAt, evt.UpdatedAt = now, now
	evt.Status = model.OutboxStatusPending
	r.s.outbox = append(r.s.outbox, *evt)
	id := evt.ID
	track(ctx, func() {
		for i := range r.s.outbox {
			if r.s.outbox[i].ID == id {
				r.s.outbox = append(r.s.outbox[:i], r.s.outbox[i+1:]...)
				return
			}
		}
	})
	return nil
}

// trackRow lets a rollback put prev back in place.
func (r *OutboxRepository) trackRow(ctx context.Context, prev model.OutboxEvent) {
	track(ctx, func() {
		for i := range r.s.outbox {
			if r.s.outbox[i].ID == prev.ID {
				r.s.outbox[i] = prev
				return
			}
		}
	})
}

func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	var out []*model.OutboxEvent
	for i := range r.s.outbox {
		evt := &r.s.outbox[i]
		stale := evt.Status == model.OutboxStatusProcessing && evt.UpdatedAt.Before(now.Add(-lease))
		if evt.Status != model.OutboxStatusPending && !stale {
			continue
		}
		r.trackRow(ctx, *evt)
		evt.Status = model.OutboxStatusProcessing
		evt.UpdatedAt = now
		claimed := *evt
		out = append(out, &claimed)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepository) update(ctx context.Context, id uuid.UUID, fn func(*model.OutboxEvent)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i := range r.s.outbox {
		if r.s.outbox[i].ID == id {
			r.trackRow(ctx, r.s.outbox[i])
			fn(&r.s.outbox[i])
			r.s.outbox[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return apperrors.NotFound("outbox event", id)
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, func(evt *model.OutboxEvent) {
		now := time.Now().UTC()
		evt.Status = model.OutboxStatusProcessed
		evt.ProcessedAt = &now
		evt.ErrorMessage = nil
	})
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxRetries int) error {
	return r.update(ctx, id, func(evt *model.OutboxEvent) {
		evt.RetryCount++
		evt.ErrorMessage = &errMsg
		evt.Status = model.OutboxStatusPending
		if evt.RetryCount >= maxRetries {
			evt.Status = model.OutboxStatusFailed
		}
	})
}

func (r *OutboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var kept, removed []model.OutboxEvent
	for _, evt := range r.s.outbox {
		if evt.Status == model.OutboxStatusProcessed && evt.ProcessedAt != nil && evt.ProcessedAt.Before(before) {
			removed = append(removed, evt)
			continue
		}
		kept = append(kept, evt)
	}
	r.s.outbox = kept
	if len(removed) > 0 {
		track(ctx, func() {
			r.s.outbox = append(removed, r.s.outbox...)
		})
	}
	return int64(len(removed)), nil
}

// Events returns every stored outbox row.
func (r *OutboxRepository) Events() []model.OutboxEvent {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]model.OutboxEvent(nil), r.s.outbox...)
}
