// Package notification turns domain events into user facing messages and
// delivers them over the configured channels.
package notification

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	"github.com/jwalitptl/medbooking/internal/policy"
	"github.com/jwalitptl/medbooking/internal/repository"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/event"
	"github.com/jwalitptl/medbooking/pkg/logger"
)

const (
	entityType = "notification"

	defaultPruneDays = 30
	defaultListLimit = 50
	maxMessageLen    = 2000
)

const (
	actionCreate   = "notifications.notification.create"
	actionDeliver  = "notifications.notification.deliver"
	actionMarkSent = "notifications.notification.markSent"
	actionMarkFail = "notifications.notification.fail"
	actionPrune    = "notifications.prune"
	actionAuto     = "notifications.autoCreate"
)

var ErrChannelNotConfigured = errors.New("channel not configured")

// Sender delivers one notification over a single channel.
type Sender interface {
	Send(ctx context.Context, n *model.Notification) error
}

type SenderFunc func(ctx context.Context, n *model.Notification) error

func (f SenderFunc) Send(ctx context.Context, n *model.Notification) error { return f(ctx, n) }

type Option func(*Service)

// WithSender registers the sender for a channel, replacing the default.
func WithSender(channel string, s Sender) Option {
	return func(svc *Service) { svc.senders[channel] = s }
}

func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

type Service struct {
	repo    repository.NotificationRepository
	bus     event.Bus
	policy  *policy.Policy
	senders map[string]Sender
	log     *logger.Logger
	now     func() time.Time
}

// NewService builds the dispatcher. In-app notifications are stored only, so
// their sender always succeeds; sms has no provider and always fails.
func NewService(repo repository.NotificationRepository, bus event.Bus, pol *policy.Policy, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Service{
		repo:   repo,
		bus:    bus,
		policy: pol,
		senders: map[string]Sender{
			model.ChannelInApp: SenderFunc(func(context.Context, *model.Notification) error { return nil }),
		},
		log: log.With("service", "notification"),
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Queue stores a pending notification. Callers may only queue for
// themselves unless privileged.
func (s *Service) Queue(ctx context.Context, p policy.Principal, req model.QueueNotificationRequest) (*model.Notification, error) {
	n, err := s.queue(ctx, p, req)
	if err != nil {
		s.fail(ctx, p, actionCreate, nil, err, map[string]interface{}{"target_user": req.UserID.String()})
		return nil, err
	}

	md := map[string]interface{}{"channel": n.Channel, "user_id": n.UserID.String()}
	event.Emit(ctx, s.bus, s.log,
		event.Record(p.Actor(), actionCreate, entityType, n.ID, event.StatusOK, md),
		event.New(event.NotificationCreated, p.Actor(), entityType, n.ID, event.StatusOK, md),
	)
	return n, nil
}

func (s *Service) queue(ctx context.Context, p policy.Principal, req model.QueueNotificationRequest) (*model.Notification, error) {
	if err := policy.Require(s.policy.CanActAs(p, req.UserID), "cannot queue notifications for another user"); err != nil {
		return nil, err
	}
	if req.UserID == uuid.Nil {
		return nil, apperrors.Invalid("user_id is required").WithData("field", "user_id")
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" || len(msg) > maxMessageLen {
		return nil, apperrors.Invalid("message must be between 1 and 2000 characters").WithData("field", "message")
	}
	channel := strings.ToLower(strings.TrimSpace(req.Channel))
	if channel == "" {
		channel = model.ChannelInApp
	}
	switch channel {
	case model.ChannelInApp, model.ChannelEmail, model.ChannelSMS:
	default:
		return nil, apperrors.Validation("INVALID_CHANNEL", "channel must be one of inapp, email, sms").WithData("field", "channel")
	}

	n := &model.Notification{
		UserID:    req.UserID,
		Message:   msg,
		Channel:   channel,
		Status:    model.NotificationStatusPending,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Deliver pushes a notification through its channel. A notification that
// was already sent is returned untouched with a warning event.
func (s *Service) Deliver(ctx context.Context, p policy.Principal, id uuid.UUID) (*model.Notification, error) {
	if err := policy.RequireAdmin(p); err != nil {
		s.fail(ctx, p, actionDeliver, id, err, nil)
		return nil, err
	}
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		s.fail(ctx, p, actionDeliver, id, err, map[string]interface{}{"reason": "not_found"})
		return nil, err
	}
	return s.deliver(ctx, p, n)
}

func (s *Service) deliver(ctx context.Context, p policy.Principal, n *model.Notification) (*model.Notification, error) {
	id := n.ID
	md := map[string]interface{}{"channel": n.Channel, "user_id": n.UserID.String()}
	if n.Status == model.NotificationStatusSent {
		event.Emit(ctx, s.bus, s.log,
			event.New(event.NotificationAlreadySent, p.Actor(), entityType, n.ID, event.StatusWarning, md))
		return n, nil
	}

	sendErr := s.send(ctx, n)
	if sendErr == nil {
		at := s.now()
		n.Status = model.NotificationStatusSent
		n.SentAt = &at
	} else {
		n.Status = model.NotificationStatusFailed
		n.SentAt = nil
	}
	if err := s.repo.UpdateStatus(ctx, n); err != nil {
		s.fail(ctx, p, actionDeliver, id, err, nil)
		return nil, err
	}

	if sendErr != nil {
		md["reason"] = sendErr.Error()
		s.log.Warn("notification delivery failed", "id", n.ID.String(), "channel", n.Channel, "error", sendErr.Error())
		event.Emit(ctx, s.bus, s.log,
			event.New(event.NotificationFailed, p.Actor(), entityType, n.ID, event.StatusError, md))
		return n, nil
	}
	event.Emit(ctx, s.bus, s.log,
		event.New(event.NotificationSent, p.Actor(), entityType, n.ID, event.StatusOK, md))
	return n, nil
}

func (s *Service) send(ctx context.Context, n *model.Notification) error {
	sender, ok := s.senders[n.Channel]
	if !ok {
		return ErrChannelNotConfigured
	}
	return sender.Send(ctx, n)
}

// MarkSent records an out of band delivery. at defaults to now.
func (s *Service) MarkSent(ctx context.Context, p policy.Principal, id uuid.UUID, at *time.Time) (*model.Notification, error) {
	n, err := s.mark(ctx, p, id, model.NotificationStatusSent, at, "")
	if err != nil {
		s.fail(ctx, p, actionMarkSent, id, err, nil)
		return nil, err
	}
	return n, nil
}

// MarkFailed is idempotent: a failed notification is returned as is.
func (s *Service) MarkFailed(ctx context.Context, p policy.Principal, id uuid.UUID, reason string) (*model.Notification, error) {
	n, err := s.mark(ctx, p, id, model.NotificationStatusFailed, nil, reason)
	if err != nil {
		s.fail(ctx, p, actionMarkFail, id, err, nil)
		return nil, err
	}
	return n, nil
}

func (s *Service) mark(ctx context.Context, p policy.Principal, id uuid.UUID, to model.NotificationStatus, at *time.Time, reason string) (*model.Notification, error) {
	if err := policy.RequireAdmin(p); err != nil {
		return nil, err
	}
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status == to {
		return n, nil
	}

	n.Status = to
	n.SentAt = nil
	if to == model.NotificationStatusSent {
		sentAt := s.now()
		if at != nil {
			sentAt = at.UTC()
		}
		n.SentAt = &sentAt
	}
	if err := s.repo.UpdateStatus(ctx, n); err != nil {
		return nil, err
	}

	md := map[string]interface{}{"channel": n.Channel, "user_id": n.UserID.String()}
	name, status := event.NotificationSent, event.StatusOK
	if to == model.NotificationStatusFailed {
		name, status = event.NotificationFailed, event.StatusError
		if reason != "" {
			md["reason"] = reason
		}
	} else {
		md["sent_at"] = event.FormatTime(*n.SentAt)
	}
	event.Emit(ctx, s.bus, s.log, event.New(name, p.Actor(), entityType, n.ID, status, md))
	return n, nil
}

type PruneResult struct {
	Pruned        int64     `json:"pruned"`
	OlderThanDays int       `json:"older_than_days"`
	Cutoff        time.Time `json:"cutoff"`
}

// Prune deletes sent notifications older than the given number of days
// (30 when zero). Admin only.
func (s *Service) Prune(ctx context.Context, p policy.Principal, olderThanDays int) (*PruneResult, error) {
	if err := policy.RequireAdmin(p); err != nil {
		s.fail(ctx, p, actionPrune, nil, err, nil)
		return nil, err
	}
	if olderThanDays < 0 {
		err := apperrors.Invalid("olderThanDays must be positive").WithData("field", "olderThanDays")
		s.fail(ctx, p, actionPrune, nil, err, nil)
		return nil, err
	}
	if olderThanDays == 0 {
		olderThanDays = defaultPruneDays
	}

	cutoff := s.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	n, err := s.repo.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		err = apperrors.Infrastructure(err, "failed to prune notifications")
		s.fail(ctx, p, actionPrune, nil, err, nil)
		return nil, err
	}

	res := &PruneResult{Pruned: n, OlderThanDays: olderThanDays, Cutoff: cutoff}
	event.Emit(ctx, s.bus, s.log, event.New(event.NotificationsPruned, p.Actor(), entityType, nil, event.StatusOK,
		map[string]interface{}{"pruned": n, "olderThanDays": olderThanDays, "cutoff": event.FormatTime(cutoff)}))
	return res, nil
}

// ListForUser returns the newest notifications of a user.
func (s *Service) ListForUser(ctx context.Context, p policy.Principal, userID uuid.UUID, limit int) ([]*model.Notification, error) {
	if err := policy.Require(s.policy.CanActAs(p, userID), "cannot read notifications of another user"); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = defaultListLimit
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

func (s *Service) fail(ctx context.Context, p policy.Principal, action string, entityID interface{}, err error, extra map[string]interface{}) {
	event.Emit(ctx, s.bus, s.log, event.Failure(p.Actor(), action, entityType, entityID, err, extra))
}
