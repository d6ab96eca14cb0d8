package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"plantline/internal/domain"
)

const (
	ProductionRecorded = "production.recorded"
	PDIRecorded        = "pdi.recorded"
	TaskDerived        = "task.derived"
	TaskCreated        = "task.created"
	TaskStatusUpdated  = "task.status.updated"
	TaskDeleted        = "task.deleted"
)

// Appender stores an event inside the caller's transaction.
type Appender interface {
	AppendEvent(ctx context.Context, e domain.Event) error
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx Appender, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	return tx.AppendEvent(ctx, domain.Event{
		TS:         w.Now().UTC().Format(time.RFC3339),
		Type:       evtType,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	})
}
