package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/medbooking/internal/model"
)

func (r *auditRepository) Create(ctx context.Context, e *model.AuditLogEntry) error {
	query := `
		INSERT INTO audit_logs (
			id, actor_id, actor_role, action, entity_type, entity_id, status, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.conn(ctx).ExecContext(ctx, query,
		e.ID, e.ActorID, e.ActorRole, e.Action, e.EntityType, e.EntityID, e.Status, e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, f model.AuditFilter) ([]*model.AuditLogEntry, error) {
	ds := dialect.From("audit_logs").Prepared(true).Select(
		"id", "actor_id", "actor_role", "action", "entity_type", "entity_id", "status", "metadata", "created_at",
	)
	if f.ActorID != nil {
		ds = ds.Where(goqu.C("actor_id").Eq(*f.ActorID))
	}
	if f.Action != "" {
		ds = ds.Where(goqu.C("action").Eq(f.Action))
	}
	if f.EntityType != "" {
		ds = ds.Where(goqu.C("entity_type").Eq(f.EntityType))
	}
	if f.EntityID != "" {
		ds = ds.Where(goqu.C("entity_id").Eq(f.EntityID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(f.Status))
	}
	if f.Since != nil {
		ds = ds.Where(goqu.C("created_at").Gte(*f.Since))
	}
	ds = ds.Order(goqu.C("created_at").Desc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build audit query: %w", err)
	}

	var logs []*model.AuditLogEntry
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &logs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

func (r *auditRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit logs: %w", err)
	}
	return res.RowsAffected()
}

// groupable columns for Stats
var auditGroupColumns = map[string]string{
	"action": "action",
	"status": "status",
}

func (r *auditRepository) Stats(ctx context.Context, groupBy string) ([]model.AuditStat, error) {
	col, ok := auditGroupColumns[groupBy]
	if !ok {
		return nil, fmt.Errorf("unsupported group by %q", groupBy)
	}

	query, args, err := dialect.From("audit_logs").Prepared(true).
		Select(goqu.C(col).As("key"), goqu.COUNT("*").As("count")).
		GroupBy(goqu.C(col)).
		Order(goqu.I("count").Desc(), goqu.I("key").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build audit stats query: %w", err)
	}

	var stats []model.AuditStat
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &stats, query, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate audit logs: %w", err)
	}
	return stats, nil
}
