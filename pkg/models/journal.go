package models

import "time"

// JournalEntry is one audit record in a lead's journey. Every status
// transition and node move writes one; failures to write never interrupt
// flow execution.
type JournalEntry struct {
	LeadID     string         `json:"lead_id"     validate:"required"`
	CampaignID string         `json:"campaign_id" validate:"required"`
	Timestamp  time.Time      `json:"timestamp"`
	Message    string         `json:"message"`
	NodeID     string         `json:"node_id,omitempty"`
	NodeKind   NodeKind       `json:"node_kind,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}
