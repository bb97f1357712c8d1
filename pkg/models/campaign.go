package models

import "time"

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusReady     CampaignStatus = "ready"     // Defined, not yet started
	CampaignStatusRunning   CampaignStatus = "running"   // Leads enrolled and executing
	CampaignStatusCompleted CampaignStatus = "completed" // All leads reached a terminal state
	CampaignStatusFailed    CampaignStatus = "failed"    // Campaign start aborted
)

// Campaign is an immutable graph definition plus its run status. The node and
// connection lists are validated structurally by the flow loader before any
// lead is created; the engine itself never mutates them.
type Campaign struct {
	ID           string         `json:"id"            validate:"required"`
	Name         string         `json:"name"          validate:"required,min=3"`
	Status       CampaignStatus `json:"status"        validate:"required"`
	Nodes        []*Node        `json:"nodes"`
	Connections  []*Connection  `json:"connections"`
	StartNode    string         `json:"start_node"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// IsTerminal reports whether the campaign accepts no further transitions.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignStatusCompleted || c.Status == CampaignStatusFailed
}

// MarkCompleted flips the campaign to completed. The write is idempotent so
// concurrent completion checks may race harmlessly.
func (c *Campaign) MarkCompleted(now time.Time) {
	if c.Status == CampaignStatusCompleted {
		return
	}

	c.Status = CampaignStatusCompleted
	c.CompletedAt = &now
	c.UpdatedAt = now
}

// MarkFailed records a fatal campaign-start error.
func (c *Campaign) MarkFailed(message string, now time.Time) {
	c.Status = CampaignStatusFailed
	c.ErrorMessage = message
	c.UpdatedAt = now
}
