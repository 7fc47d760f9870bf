package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

type AvailabilityRepository struct {
	s *Store
}

func NewAvailabilityRepository(s *Store) *AvailabilityRepository {
	return &AvailabilityRepository{s: s}
}

func (r *AvailabilityRepository) Create(ctx context.Context, slot *model.AvailabilitySlot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	now := time.Now().UTC()
	slot.CreatedAt, slot.UpdatedAt = now, now
	trackKey(ctx, r.s.slots, slot.ID)
	r.s.slots[slot.ID] = *slot
	return nil
}

func (r *AvailabilityRepository) Get(_ context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	slot, ok := r.s.slots[id]
	if !ok {
		return nil, apperrors.NotFound("availability slot", id)
	}
	return &slot, nil
}

func (r *AvailabilityRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.AvailabilitySlot, error) {
	return r.Get(ctx, id)
}

func (r *AvailabilityRepository) Update(ctx context.Context, slot *model.AvailabilitySlot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.slots[slot.ID]; !ok {
		return apperrors.NotFound("availability slot", slot.ID)
	}
	slot.UpdatedAt = time.Now().UTC()
	trackKey(ctx, r.s.slots, slot.ID)
	r.s.slots[slot.ID] = *slot
	return nil
}

func (r *AvailabilityRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.slots[id]; !ok {
		return apperrors.NotFound("availability slot", id)
	}
	trackKey(ctx, r.s.slots, id)
	delete(r.s.slots, id)
	return nil
}

func (r *AvailabilityRepository) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*model.AvailabilitySlot, error) {
	return r.list(func(s model.AvailabilitySlot) bool { return s.DoctorID == doctorID }), nil
}

func (r *AvailabilityRepository) ListByDoctorDay(_ context.Context, doctorID uuid.UUID, dayOfWeek int) ([]*model.AvailabilitySlot, error) {
	return r.list(func(s model.AvailabilitySlot) bool {
		return s.DoctorID == doctorID && s.DayOfWeek == dayOfWeek
	}), nil
}

func (r *AvailabilityRepository) list(keep func(model.AvailabilitySlot) bool) []*model.AvailabilitySlot {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*model.AvailabilitySlot
	for _, slot := range r.s.slots {
		if keep(slot) {
			slot := slot
			out = append(out, &slot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}
