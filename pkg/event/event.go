package event

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

// Status is the outcome recorded on an event envelope.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusWarning Status = "warning"
)

// Actor identifies who caused an event. ID is nil for the system.
type Actor struct {
	ID   *uuid.UUID `json:"id"`
	Role string     `json:"role"`
}

// SystemActor is used by reactive handlers and workers.
var SystemActor = Actor{Role: "system"}

// Event is the envelope delivered to subscribers.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Name       string                 `json:"name"`
	Actor      Actor                  `json:"actor"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id,omitempty"`
	Status     Status                 `json:"status"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Handler reacts to one event. Returned errors are logged by the bus and
// never reach the publisher.
type Handler func(ctx context.Context, evt Event) error

// Bus delivers named events to every registered subscriber.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(name string, h Handler)
}

// New builds an event whose action equals its name.
func New(name string, actor Actor, entityType string, entityID interface{}, status Status, metadata map[string]interface{}) Event {
	return Event{
		ID:         uuid.New(),
		Name:       name,
		Actor:      actor,
		Action:     name,
		EntityType: entityType,
		EntityID:   idString(entityID),
		Status:     status,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	}
}

// Record builds the generic audit event for an action.
func Record(actor Actor, action, entityType string, entityID interface{}, status Status, metadata map[string]interface{}) Event {
	evt := New(LogsRecord, actor, entityType, entityID, status, metadata)
	evt.Action = action
	return evt
}

// Failure builds the audit event for an action that failed with err.
func Failure(actor Actor, action, entityType string, entityID interface{}, err error, extra map[string]interface{}) Event {
	md := map[string]interface{}{
		"code":    apperrors.CodeOf(err),
		"message": err.Error(),
	}
	for k, v := range extra {
		md[k] = v
	}
	return Record(actor, action, entityType, entityID, StatusError, md)
}

func idString(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case uuid.UUID:
		if v == uuid.Nil {
			return ""
		}
		return v.String()
	case *uuid.UUID:
		if v == nil {
			return ""
		}
		return v.String()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// String returns a metadata value as a string.
func (e Event) String(key string) string {
	switch v := e.Metadata[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// UUID parses a metadata value as a uuid. Missing or malformed values
// yield uuid.Nil.
func (e Event) UUID(key string) uuid.UUID {
	if v, ok := e.Metadata[key].(uuid.UUID); ok {
		return v
	}
	id, err := uuid.Parse(e.String(key))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Time parses a metadata value as an RFC3339 instant.
func (e Event) Time(key string) (time.Time, bool) {
	if v, ok := e.Metadata[key].(time.Time); ok {
		return v, true
	}
	t, err := time.Parse(time.RFC3339Nano, e.String(key))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Map returns a nested metadata object.
func (e Event) Map(key string) map[string]interface{} {
	m, _ := e.Metadata[key].(map[string]interface{})
	return m
}

// Float returns a numeric metadata value.
func (e Event) Float(key string) (float64, bool) {
	switch v := e.Metadata[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// EntityUUID parses the envelope entity id.
func (e Event) EntityUUID() uuid.UUID {
	id, err := uuid.Parse(e.EntityID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// FormatTime renders instants the way every producer writes them into metadata.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
