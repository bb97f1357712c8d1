package models

import "time"

// EventKind is the external tracking signal a condition node can wait on.
type EventKind string

const (
	EventKindOpened  EventKind = "opened"
	EventKindClicked EventKind = "clicked"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	return k == EventKindOpened || k == EventKindClicked
}

// WaitingEvent records that the engine is listening for an external signal
// tied to one lead and one condition node. It is consumed exactly once: the
// oldest unprocessed matching record wins, and the processed flag never flips
// back.
type WaitingEvent struct {
	ID              string     `json:"id"                validate:"required"`
	LeadID          string     `json:"lead_id"           validate:"required"`
	CampaignID      string     `json:"campaign_id"       validate:"required"`
	ConditionNodeID string     `json:"condition_node_id" validate:"required"`
	Kind            EventKind  `json:"kind"              validate:"required"`
	TargetURL       string     `json:"target_url,omitempty"`
	MessageNodeID   string     `json:"message_node_id,omitempty"`
	Processed       bool       `json:"processed"`
	CreatedAt       time.Time  `json:"created_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
}

// MarkProcessed consumes the event. Returns false if it was already consumed.
func (e *WaitingEvent) MarkProcessed(now time.Time) bool {
	if e.Processed {
		return false
	}

	e.Processed = true
	e.ProcessedAt = &now

	return true
}
