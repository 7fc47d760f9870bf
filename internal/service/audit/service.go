// Package audit persists the generic logs.record stream and serves it back
// to admins.
package audit

import (
	"context"
	"time"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/repository"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/event"
	"github.com/jwalitptl/medbooking/pkg/logger"
)

const (
	entityType = "audit_log"

	defaultListLimit = 100
	maxListLimit     = 1000
)

type Service struct {
	repo repository.AuditRepository
	bus  event.Bus
	log  *logger.Logger
}

func NewService(repo repository.AuditRepository, bus event.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{repo: repo, bus: bus, log: log.With("service", "audit")}
}

func (s *Service) RegisterHandlers(bus event.Bus) {
	bus.Subscribe(event.LogsRecord, s.onRecord)
}

// onRecord stores one audit event. A failed insert is reported on
// logs.record.error and never returned.
func (s *Service) onRecord(ctx context.Context, evt event.Event) error {
	if err := s.Record(ctx, evt); err != nil {
		s.log.Error(err, "failed to persist audit record", "action", evt.Action, "event_id", evt.ID.String())
		errEvt := event.New(event.LogsRecordError, event.SystemActor, entityType, nil, event.StatusError, map[string]interface{}{
			"message":         err.Error(),
			"original_action": evt.Action,
		})
		if pubErr := s.bus.Publish(ctx, errEvt); pubErr != nil {
			s.log.Warn("failed to publish audit error event", "error", pubErr.Error())
		}
	}
	return nil
}

// Record redacts and persists evt.
func (s *Service) Record(ctx context.Context, evt event.Event) error {
	status := string(evt.Status)
	if status == "" {
		status = string(event.StatusOK)
	}
	action := evt.Action
	if action == "" {
		action = evt.Name
	}
	at := evt.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	entry := &model.AuditLogEntry{
		ActorID:    evt.Actor.ID,
		ActorRole:  evt.Actor.Role,
		Action:     action,
		EntityType: evt.EntityType,
		EntityID:   evt.EntityID,
		Status:     status,
		Metadata:   model.JSONMap(Redact(evt.Metadata)),
		CreatedAt:  at.UTC(),
	}
	return s.repo.Create(ctx, entry)
}

// List returns audit entries, newest first. Admin only.
func (s *Service) List(ctx context.Context, p policy.Principal, f model.AuditFilter) ([]*model.AuditLogEntry, error) {
	if err := policy.RequireAdmin(p); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		return nil, apperrors.Invalid("offset must not be negative").WithData("field", "offset")
	}
	return s.repo.List(ctx, f)
}

// Purge deletes entries created before the cutoff. Admin only.
func (s *Service) Purge(ctx context.Context, p policy.Principal, before time.Time) (int64, error) {
	if err := policy.RequireAdmin(p); err != nil {
		return 0, err
	}
	if before.IsZero() {
		return 0, apperrors.Invalid("before is required").WithData("field", "before")
	}
	n, err := s.repo.DeleteBefore(ctx, before)
	if err != nil {
		return 0, apperrors.Infrastructure(err, "failed to purge audit logs")
	}
	s.log.Info("audit logs purged", "before", before.Format(time.RFC3339), "deleted", n)
	return n, nil
}

// Stats counts entries grouped by action or status.
func (s *Service) Stats(ctx context.Context, p policy.Principal, groupBy string) ([]model.AuditStat, error) {
	if err := policy.RequireAdmin(p); err != nil {
		return nil, err
	}
	switch groupBy {
	case "":
		groupBy = "action"
	case "action", "status":
	default:
		return nil, apperrors.Invalid("group_by must be action or status").WithData("field", "group_by")
	}
	return s.repo.Stats(ctx, groupBy)
}
