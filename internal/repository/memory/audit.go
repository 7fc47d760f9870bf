package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medbooking/internal/model"
)

type AuditRepository struct {
	s *Store
}

func NewAuditRepository(s *Store) *AuditRepository {
	return &AuditRepository{s: s}
}

func (r *AuditRepository) Create(ctx context.Context, entry *model.AuditLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.s.audit = append(r.s.audit, *entry)
	id := entry.ID
	track(ctx, func() {
		for i := range r.s.audit {
			if r.s.audit[i].ID == id {
				r.s.audit = append(r.s.audit[:i], r.s.audit[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r *AuditRepository) List(_ context.Context, f model.AuditFilter) ([]*model.AuditLogEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*model.AuditLogEntry
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		e := r.s.audit[i]
		if f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID) {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		out = append(out, &e)
	}

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *AuditRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var kept, removed []model.AuditLogEntry
	for _, e := range r.s.audit {
		if e.CreatedAt.Before(before) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	r.s.audit = kept
	if len(removed) > 0 {
		track(ctx, func() {
			r.s.audit = append(removed, r.s.audit...)
		})
	}
	return int64(len(removed)), nil
}

func (r *AuditRepository) Stats(_ context.Context, groupBy string) ([]model.AuditStat, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, e := range r.s.audit {
		switch groupBy {
		case "action":
			counts[e.Action]++
		case "status":
			counts[e.Status]++
		default:
			return nil, fmt.Errorf("unsupported group by %q", groupBy)
		}
	}

	out := make([]model.AuditStat, 0, len(counts))
	for k, c := range counts {
		out = append(out, model.AuditStat{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}
