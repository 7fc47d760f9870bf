package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

const (
	ChannelInApp = "inapp"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type Notification struct {
	ID        uuid.UUID          `db:"id" json:"id"`
	UserID    uuid.UUID          `db:"user_id" json:"user_id"`
	Message   string             `db:"message" json:"message"`
	Channel   string             `db:"channel" json:"channel"`
	Status    NotificationStatus `db:"status" json:"status"`
	SentAt    *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`

	// Body, when set, is delivered instead of Message. It is never stored.
	Body string `db:"-" json:"-"`
}

// Content is what a channel should deliver.
func (n *Notification) Content() string {
	if n.Body != "" {
		return n.Body
	}
	return n.Message
}

type QueueNotificationRequest struct {
	UserID  uuid.UUID `json:"user_id" binding:"required"`
	Message string    `json:"message" binding:"required,max=2000"`
	Channel string    `json:"channel" binding:"omitempty,oneof=inapp email sms"`
}
