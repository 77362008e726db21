package entity

import "time"

type EventType string

const (
	EventSignerViewed     EventType = "signer.viewed"
	EventSignerSigned     EventType = "signer.signed"
	EventSignerDeclined   EventType = "signer.declined"
	EventRequestCompleted EventType = "request.completed"
	EventRequestDeclined  EventType = "request.declined"
	EventRequestExpired   EventType = "request.expired"
)

// Event is delivered best-effort to external systems mirroring signing state.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	BaseID     string    `json:"base_id"`
	RequestID  string    `json:"request_id"`
	SignerID   string    `json:"signer_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
