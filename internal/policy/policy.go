// Package policy holds the role and ownership rules shared by every
// domain service. Services receive a Policy instead of carrying their own
// helper methods.
package policy

import (
	"context"

	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
	"github.com/jwalitptl/medbooking/pkg/event"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Principal is the authenticated caller injected by the gateway.
type Principal struct {
	ID    uuid.UUID `json:"id"`
	Role  Role      `json:"role"`
	Email string    `json:"email,omitempty"`
}

// System is the principal used by reactive handlers and workers.
var System = Principal{Role: RoleSystem}

func (p Principal) IsAdmin() bool  { return p.Role == RoleAdmin }
func (p Principal) IsSystem() bool { return p.Role == RoleSystem }

// Privileged reports whether rules of ownership are bypassed.
func (p Principal) Privileged() bool {
	return p.IsAdmin() || p.IsSystem()
}

// Actor converts the principal into an event actor.
func (p Principal) Actor() event.Actor {
	if p.ID == uuid.Nil {
		return event.Actor{Role: string(p.Role)}
	}
	id := p.ID
	return event.Actor{ID: &id, Role: string(p.Role)}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Policy answers capability questions. It is stateless and safe to share.
type Policy struct{}

func New() *Policy { return &Policy{} }

// CanBook allows patients and doctors to book only as themselves.
func (Policy) CanBook(p Principal, patientID, doctorID uuid.UUID) bool {
	switch {
	case p.Privileged():
		return true
	case p.Role == RolePatient:
		return p.ID == patientID
	case p.Role == RoleDoctor:
		return p.ID == doctorID
	}
	return false
}

// CanConfirm covers confirm and complete: owning doctor or admin.
func (Policy) CanConfirm(p Principal, doctorID uuid.UUID) bool {
	return p.Privileged() || (p.Role == RoleDoctor && p.ID == doctorID)
}

func (Policy) CanCancel(p Principal, patientID, doctorID uuid.UUID) bool {
	switch {
	case p.Privileged():
		return true
	case p.Role == RolePatient:
		return p.ID == patientID
	case p.Role == RoleDoctor:
		return p.ID == doctorID
	}
	return false
}

// CanView is used for reads scoped to a participant.
func (pol Policy) CanView(p Principal, patientID, doctorID uuid.UUID) bool {
	return pol.CanCancel(p, patientID, doctorID)
}

// CanActAs lets a user query their own data; admins may query anyone.
func (Policy) CanActAs(p Principal, userID uuid.UUID) bool {
	return p.Privileged() || p.ID == userID
}

func (Policy) CanManageSlots(p Principal, doctorID uuid.UUID) bool {
	return p.Privileged() || (p.Role == RoleDoctor && p.ID == doctorID)
}

// CanManagePayment covers status changes on payments: doctors, admins and
// the system.
func (Policy) CanManagePayment(p Principal) bool {
	return p.Privileged() || p.Role == RoleDoctor
}

// CanOwnPayment lets the payer and privileged callers read or create a payment.
func (Policy) CanOwnPayment(p Principal, userID uuid.UUID) bool {
	return p.Privileged() || p.ID == userID
}

// ReportView is the subset of a report the visibility rules need.
type ReportView struct {
	AuthorID         uuid.UUID
	VisibleToPatient bool
	VisibleToDoctor  bool
}

// CanSeeReport: authors always see their own report, otherwise the role
// specific flag decides.
func (Policy) CanSeeReport(p Principal, r ReportView) bool {
	switch {
	case p.Privileged():
		return true
	case p.ID == r.AuthorID:
		return true
	case p.Role == RolePatient:
		return r.VisibleToPatient
	case p.Role == RoleDoctor:
		return r.VisibleToDoctor
	}
	return false
}

func (Policy) CanEditReport(p Principal, authorID uuid.UUID) bool {
	return p.Privileged() || p.ID == authorID
}

// Require turns a failed check into an authorization error.
func Require(ok bool, message string) error {
	if ok {
		return nil
	}
	return apperrors.Forbidden(message)
}

// RequireAdmin fails unless the principal is an admin or the system.
func RequireAdmin(p Principal) error {
	return Require(p.Privileged(), "admin only")
}
