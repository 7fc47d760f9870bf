package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/email"
	"github.com/jwalitptl/medbooking/internal/model"
)

const emailSubject = "MedBooking notification"

// UserLookup resolves the address of a notification's recipient.
type UserLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// EmailSender delivers the email channel through an SMTP service.
type EmailSender struct {
	mail  email.Service
	users UserLookup
}

func NewEmailSender(mail email.Service, users UserLookup) *EmailSender {
	return &EmailSender{mail: mail, users: users}
}

func (s *EmailSender) Send(ctx context.Context, n *model.Notification) error {
	u, err := s.users.Get(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient: %w", err)
	}
	if u.Email == "" {
		return fmt.Errorf("recipient %s has no email address", n.UserID)
	}
	return s.mail.Send(ctx, u.Email, emailSubject, n.Content())
}
