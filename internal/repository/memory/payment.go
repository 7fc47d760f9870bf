package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

type PaymentRepository struct {
	s *Store
}

func NewPaymentRepository(s *Store) *PaymentRepository {
	return &PaymentRepository{s: s}
}

func copyPayment(p model.Payment) *model.Payment {
	if p.Metadata != nil {
		p.Metadata = p.Metadata.Clone()
	}
	return &p
}

func (r *PaymentRepository) providerTaken(p *model.Payment) bool {
	if p.Provider == nil || p.ProviderPaymentID == nil {
		return false
	}
	for id, other := range r.s.payments {
		if id == p.ID || other.Provider == nil || other.ProviderPaymentID == nil {
			continue
		}
		if *other.Provider == *p.Provider && *other.ProviderPaymentID == *p.ProviderPaymentID {
			return true
		}
	}
	return false
}

// pendingClash mirrors payments_one_pending_idx.
func (r *PaymentRepository) pendingClash(p *model.Payment) bool {
	if p.AppointmentID == nil || p.Status != model.PaymentStatusPending {
		return false
	}
	for id, other := range r.s.payments {
		if id != p.ID && other.AppointmentID != nil && *other.AppointmentID == *p.AppointmentID &&
			other.Status == model.PaymentStatusPending {
			return true
		}
	}
	return false
}

func (r *PaymentRepository) Create(ctx context.Context, p *model.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if r.providerTaken(p) {
		return apperrors.Conflict(apperrors.CodeProviderIDTaken, "provider payment id already linked")
	}
	if r.pendingClash(p) {
		return apperrors.Conflict(apperrors.CodeDuplicatePending, "appointment already has a pending payment")
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	trackKey(ctx, r.s.payments, p.ID)
	r.s.payments[p.ID] = *copyPayment(*p)
	return nil
}

func (r *PaymentRepository) Get(_ context.Context, id uuid.UUID) (*model.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.payments[id]
	if !ok {
		return nil, apperrors.NotFound("payment", id)
	}
	return copyPayment(p), nil
}

func (r *PaymentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	return r.Get(ctx, id)
}

func (r *PaymentRepository) Update(ctx context.Context, p *model.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.payments[p.ID]; !ok {
		return apperrors.NotFound("payment", p.ID)
	}
	if r.providerTaken(p) {
		return apperrors.Conflict(apperrors.CodeProviderIDTaken, "provider payment id already linked")
	}
	p.UpdatedAt = time.Now().UTC()
	trackKey(ctx, r.s.payments, p.ID)
	r.s.payments[p.ID] = *copyPayment(*p)
	return nil
}

func (r *PaymentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.payments[id]; !ok {
		return apperrors.NotFound("payment", id)
	}
	trackKey(ctx, r.s.payments, id)
	delete(r.s.payments, id)
	return nil
}

func matchPayment(p model.Payment, f model.PaymentFilter) bool {
	if f.UserID != nil && p.UserID != *f.UserID {
		return false
	}
	if f.AppointmentID != nil && (p.AppointmentID == nil || *p.AppointmentID != *f.AppointmentID) {
		return false
	}
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	return true
}

func (r *PaymentRepository) List(_ context.Context, f model.PaymentFilter) ([]*model.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*model.Payment
	for _, p := range r.s.payments {
		if matchPayment(p, f) {
			out = append(out, copyPayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *PaymentRepository) HasPending(_ context.Context, appointmentID uuid.UUID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.payments {
		if p.Status == model.PaymentStatusPending && p.AppointmentID != nil && *p.AppointmentID == appointmentID {
			return true, nil
		}
	}
	return false, nil
}

func (r *PaymentRepository) FindByProviderID(_ context.Context, provider, providerPaymentID string) (*model.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.payments {
		if p.Provider != nil && p.ProviderPaymentID != nil && *p.Provider == provider && *p.ProviderPaymentID == providerPaymentID {
			return copyPayment(p), nil
		}
	}
	return nil, apperrors.NotFound("payment", providerPaymentID)
}

func (r *PaymentRepository) FailPending(ctx context.Context, f model.PaymentFilter) ([]*model.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	pending := model.PaymentStatusPending
	f.Status = &pending
	now := time.Now().UTC()

	var changed []*model.Payment
	for id, p := range r.s.payments {
		if !matchPayment(p, f) {
			continue
		}
		p.Status = model.PaymentStatusFailed
		p.UpdatedAt = now
		trackKey(ctx, r.s.payments, id)
		r.s.payments[id] = p
		changed = append(changed, copyPayment(p))
	}
	return changed, nil
}
