package service

import (
	"time"

	"github.com/google/uuid"
)

// Event types published after a mutation commits.
const (
	EventOrderUpserted      = "order.upserted"
	EventOrderLineDeleted   = "order.line_deleted"
	EventOrderFinalized     = "order.finalized"
	EventPointReleased      = "point.released"
	EventPointOpened        = "point.opened"
	EventPointStatusChanged = "point.status_changed"
	EventCashSessionOpened  = "cash_session.opened"
	EventCashSessionClosed  = "cash_session.closed"
)

// Event describes a committed change. Payload is JSON-encodable.
type Event struct {
	Type            string    `json:"type"`
	EstablishmentID uuid.UUID `json:"establishment_id"`
	Identifier      string    `json:"identifier,omitempty"`
	Payload         any       `json:"payload,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// EventPublisher receives events after commit. Implementations must not block.
type EventPublisher interface {
	Publish(ev Event)
}

func publish(p EventPublisher, typ string, establishmentID uuid.UUID, identifier string, payload any) {
	if p == nil {
		return
	}
	p.Publish(Event{
		Type:            typ,
		EstablishmentID: establishmentID,
		Identifier:      identifier,
		Payload:         payload,
		OccurredAt:      time.Now().UTC(),
	})
}
