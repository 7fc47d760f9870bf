package model

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded},
	PaymentStatusPaid:    {PaymentStatusRefunded},
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

const (
	PaymentMethodCard         = "card"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodCash         = "cash"

	PaymentProviderStripe = "stripe"
	PaymentProviderPaypal = "paypal"
	PaymentProviderTest   = "test"

	DefaultCurrency = "EUR"
)

type Payment struct {
	ID                uuid.UUID     `db:"id" json:"id"`
	UserID            uuid.UUID     `db:"user_id" json:"user_id"`
	AppointmentID     *uuid.UUID    `db:"appointment_id" json:"appointment_id,omitempty"`
	Amount            float64       `db:"amount" json:"amount"`
	Currency          string        `db:"currency" json:"currency"`
	Method            string        `db:"method" json:"method"`
	Status            PaymentStatus `db:"status" json:"status"`
	Provider          *string       `db:"provider" json:"provider,omitempty"`
	ProviderPaymentID *string       `db:"provider_payment_id" json:"provider_payment_id,omitempty"`
	Metadata          JSONMap       `db:"metadata" json:"metadata,omitempty"`
	PaidAt            *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

type CreatePaymentRequest struct {
	UserID        uuid.UUID  `json:"user_id" binding:"required"`
	AppointmentID *uuid.UUID `json:"appointment_id"`
	Amount        float64    `json:"amount" binding:"required,gt=0"`
	Currency      string     `json:"currency" binding:"omitempty,len=3"`
	Method        string     `json:"method" binding:"required,oneof=card bank_transfer cash"`
	Provider      string     `json:"provider" binding:"omitempty,oneof=stripe paypal test"`
	Metadata      JSONMap    `json:"metadata"`
}

type UpdatePaymentStatusRequest struct {
	Status PaymentStatus `json:"status" binding:"required,oneof=pending paid failed refunded"`
	Reason string        `json:"reason" binding:"max=255"`
}

type RefundPaymentRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

type AttachProviderRequest struct {
	Provider          string `json:"provider" binding:"required,oneof=stripe paypal"`
	ProviderPaymentID string `json:"provider_payment_id" binding:"required,min=3,max=128"`
}

type PaymentFilter struct {
	UserID        *uuid.UUID
	AppointmentID *uuid.UUID
	Status        *PaymentStatus
	Limit         int
}
