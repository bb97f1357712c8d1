// Package events defines event types and structures for drip-flow lifecycle
// notifications carried on the event bus.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/dripflow/dripflow/pkg/models"
)

type EventType string

// Topic is the single bus topic carrying all drip-flow events.
const Topic = "dripflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Lead execution events.
	LeadRunRequestedEvent EventType = "lead.run.requested"
	LeadResumeDueEvent    EventType = "lead.resume.due"

	// External tracking signals bridged onto the bus.
	TrackingSignalReceivedEvent EventType = "tracking.signal.received"

	// Outbound dispatch round trip.
	MessageDispatchRequestedEvent EventType = "message.dispatch.requested"
	MessageDispatchCompletedEvent EventType = "message.dispatch.completed"
	MessageDispatchFailedEvent    EventType = "message.dispatch.failed"

	// Campaign lifecycle.
	CampaignCompletedEvent EventType = "campaign.completed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	CampaignID string         `json:"campaign_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent builds the common envelope for a freshly created event.
func NewBaseEvent(eventType EventType, campaignID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		CampaignID: campaignID,
	}
}

// LeadRunRequested asks a worker to drive a pending or running lead forward.
type LeadRunRequested struct {
	BaseEvent

	LeadID string `json:"lead_id"`
}

func (e LeadRunRequested) GetType() EventType {
	return LeadRunRequestedEvent
}

// LeadResumeDue is published by the scheduler when a durable timer fires,
// and by the recovery sweep for leads whose timer apparently never fired.
type LeadResumeDue struct {
	BaseEvent

	LeadID  string           `json:"lead_id"`
	TimerID string           `json:"timer_id,omitempty"`
	NodeID  string           `json:"node_id,omitempty"`
	Kind    models.TimerKind `json:"kind,omitempty"`
}

func (e LeadResumeDue) GetType() EventType {
	return LeadResumeDueEvent
}

// TrackingSignalReceived is the out-of-band open/click callback, bridged from
// the tracking endpoints onto the bus.
type TrackingSignalReceived struct {
	BaseEvent

	LeadID    string           `json:"lead_id"`
	Kind      models.EventKind `json:"kind"`
	TargetURL string           `json:"target_url,omitempty"`
}

func (e TrackingSignalReceived) GetType() EventType {
	return TrackingSignalReceivedEvent
}

// MessageDispatchRequested carries one outbound message to the dispatch
// subsystem. The correlation ids let the completion callback resume the
// correct cursor.
type MessageDispatchRequested struct {
	BaseEvent

	LeadID    string `json:"lead_id"`
	NodeID    string `json:"node_id"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

func (e MessageDispatchRequested) GetType() EventType {
	return MessageDispatchRequestedEvent
}

// MessageDispatchCompleted acknowledges a successful send.
type MessageDispatchCompleted struct {
	BaseEvent

	LeadID string `json:"lead_id"`
	NodeID string `json:"node_id"`
}

func (e MessageDispatchCompleted) GetType() EventType {
	return MessageDispatchCompletedEvent
}

// MessageDispatchFailed reports a send the dispatch subsystem gave up on.
type MessageDispatchFailed struct {
	BaseEvent

	LeadID string `json:"lead_id"`
	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

func (e MessageDispatchFailed) GetType() EventType {
	return MessageDispatchFailedEvent
}

// CampaignCompleted announces that no lead in the campaign is still active.
type CampaignCompleted struct {
	BaseEvent
}

func (e CampaignCompleted) GetType() EventType {
	return CampaignCompletedEvent
}
