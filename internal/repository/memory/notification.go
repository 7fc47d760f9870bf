package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

type NotificationRepository struct {
	s *Store
}

func NewNotificationRepository(s *Store) *NotificationRepository {
	return &NotificationRepository{s: s}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	trackKey(ctx, r.s.notifications, n.ID)
	r.s.notifications[n.ID] = *n
	return nil
}

func (r *NotificationRepository) Get(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n, ok := r.s.notifications[id]
	if !ok {
		return nil, apperrors.NotFound("notification", id)
	}
	return &n, nil
}

func (r *NotificationRepository) UpdateStatus(ctx context.Context, n *model.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.notifications[n.ID]
	if !ok {
		return apperrors.NotFound("notification", n.ID)
	}
	stored.Status = n.Status
	stored.SentAt = n.SentAt
	trackKey(ctx, r.s.notifications, n.ID)
	r.s.notifications[n.ID] = stored
	return nil
}

func (r *NotificationRepository) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]*model.Notification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*model.Notification
	for _, n := range r.s.notifications {
		if n.UserID == userID {
			n := n
			out = append(out, &n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *NotificationRepository) DeleteSentBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, notif := range r.s.notifications {
		if notif.Status == model.NotificationStatusSent && notif.SentAt != nil && notif.SentAt.Before(before) {
			trackKey(ctx, r.s.notifications, id)
			delete(r.s.notifications, id)
			n++
		}
	}
	return n, nil
}
