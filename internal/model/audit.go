package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditLogEntry is append-only.
type AuditLogEntry struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty" db:"actor_id"`
	ActorRole  string     `json:"actor_role" db:"actor_role"`
	Action     string     `json:"action" db:"action"`
	EntityType string     `json:"entity_type" db:"entity_type"`
	EntityID   string     `json:"entity_id,omitempty" db:"entity_id"`
	Status     string     `json:"status" db:"status"`
	Metadata   JSONMap    `json:"metadata" db:"metadata"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

type AuditFilter struct {
	ActorID    *uuid.UUID
	Action     string
	EntityType string
	EntityID   string
	Status     string
	Since      *time.Time
	Limit      int
	Offset     int
}

// AuditStat is one bucket of an aggregate over the audit trail.
type AuditStat struct {
	Key   string `json:"key" db:"key"`
	Count int64  `json:"count" db:"count"`
}
