package models

import "time"

// TimerKind distinguishes why a timer was armed.
type TimerKind string

const (
	TimerKindWait    TimerKind = "wait"    // fixed delay at a wait node
	TimerKindTimeout TimerKind = "timeout" // condition-node timeout path
)

// Timer is a durable scheduled resume stored in the database and polled by
// the central scheduler, so pending delays survive process restarts. A timer
// fires at most once; cancellation is best-effort and may race the poller.
type Timer struct {
	ID         string    `json:"id"          validate:"required"`
	LeadID     string    `json:"lead_id"     validate:"required"`
	CampaignID string    `json:"campaign_id" validate:"required"`
	NodeID     string    `json:"node_id"     validate:"required"`
	Kind       TimerKind `json:"kind"`
	FireAt     time.Time `json:"fire_at"     validate:"required"`
	Canceled   bool      `json:"canceled"`
	Fired      bool      `json:"fired"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsDue reports whether the timer should fire at the given instant.
func (t *Timer) IsDue(now time.Time) bool {
	return !t.Canceled && !t.Fired && !t.FireAt.After(now)
}
