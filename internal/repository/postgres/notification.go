package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/medbooking/internal/model"
)

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, message, channel, status, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := r.conn(ctx).ExecContext(ctx, query,
		n.ID, n.UserID, n.Message, n.Channel, n.Status, n.SentAt, n.CreatedAt,
	)
	return translate(err, "notification", n.ID, "create")
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `
		SELECT id, user_id, message, channel, status, sent_at, created_at
		FROM notifications WHERE id = $1
	`
	var n model.Notification
	if err := sqlx.GetContext(ctx, r.conn(ctx), &n, query, id); err != nil {
		return nil, translate(err, "notification", id, "get")
	}
	return &n, nil
}

func (r *notificationRepository) UpdateStatus(ctx context.Context, n *model.Notification) error {
	res, err := r.conn(ctx).ExecContext(ctx,
		`UPDATE notifications SET status = $1, sent_at = $2 WHERE id = $3`,
		n.Status, n.SentAt, n.ID,
	)
	if err != nil {
		return translate(err, "notification", n.ID, "update")
	}
	return expectAffected(res, "notification", n.ID)
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, user_id, message, channel, status, sent_at, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var out []*model.Notification
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &out, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

func (r *notificationRepository) DeleteSentBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.conn(ctx).ExecContext(ctx,
		`DELETE FROM notifications WHERE status = 'sent' AND sent_at < $1`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune notifications: %w", err)
	}
	return res.RowsAffected()
}
