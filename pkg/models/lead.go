package models

import (
	"errors"
	"slices"
	"time"
)

// LeadStatus represents the per-lead execution state.
type LeadStatus string

const (
	LeadStatusPending   LeadStatus = "pending"
	LeadStatusRunning   LeadStatus = "running"
	LeadStatusPaused    LeadStatus = "paused"
	LeadStatusCompleted LeadStatus = "completed"
	LeadStatusFailed    LeadStatus = "failed"
)

// ErrLeadTerminal is returned when a transition is attempted on a completed
// or failed lead. Callers treat it as "silently ignore and log".
var ErrLeadTerminal = errors.New("lead is in a terminal state")

// Lead is one enrolled participant's workflow instance. It carries the
// execution cursor, the idempotency ledger that makes crash replay safe, and
// an audit trail. The flow engine is the only writer.
type Lead struct {
	ID         string `json:"id"          validate:"required"`
	CampaignID string `json:"campaign_id" validate:"required"`
	Name       string `json:"name"`
	Email      string `json:"email"       validate:"required,email"`

	Status           LeadStatus `json:"status"`
	CurrentNode      string     `json:"current_node"`
	NextNode         string     `json:"next_node,omitempty"`
	WaitUntil        *time.Time `json:"wait_until,omitempty"`
	ScheduledTimerID string     `json:"scheduled_timer_id,omitempty"`

	// Idempotency ledger. SentMessages is always a subset of CompletedNodes.
	CompletedNodes []string `json:"completed_nodes"`
	SentMessages   []string `json:"sent_messages"`
	CompletedWaits []string `json:"completed_waits"`

	ExecutionPath []string   `json:"execution_path"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	MessagesSent  int        `json:"messages_sent"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`

	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewLead creates a pending lead positioned at the campaign's start node.
func NewLead(id, campaignID, name, email, startNode string, now time.Time) *Lead {
	return &Lead{
		ID:            id,
		CampaignID:    campaignID,
		Name:          name,
		Email:         email,
		Status:        LeadStatusPending,
		CurrentNode:   startNode,
		ExecutionPath: []string{startNode},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsTerminal reports whether the lead accepts no further transitions.
func (l *Lead) IsTerminal() bool {
	return l.Status == LeadStatusCompleted || l.Status == LeadStatusFailed
}

// Start moves a pending lead to running.
func (l *Lead) Start(now time.Time) error {
	if l.IsTerminal() {
		return ErrLeadTerminal
	}

	l.Status = LeadStatusRunning
	if l.StartedAt == nil {
		l.StartedAt = &now
	}

	l.UpdatedAt = now

	return nil
}

// Pause suspends the lead at its current node. A timer-driven pause carries a
// deadline and the durable timer handle; an event-driven pause carries
// neither and is woken by the tracking bridge. Condition nodes arm both.
func (l *Lead) Pause(nextNode string, waitUntil *time.Time, timerID string, now time.Time) error {
	if l.IsTerminal() {
		return ErrLeadTerminal
	}

	l.Status = LeadStatusPaused
	l.NextNode = nextNode
	l.WaitUntil = waitUntil
	l.ScheduledTimerID = timerID
	l.UpdatedAt = now

	return nil
}

// Resume clears the pause fields and moves the lead back to running. The
// caller positions CurrentNode before executing.
func (l *Lead) Resume(now time.Time) error {
	if l.IsTerminal() {
		return ErrLeadTerminal
	}

	l.Status = LeadStatusRunning
	l.NextNode = ""
	l.WaitUntil = nil
	l.ScheduledTimerID = ""
	l.UpdatedAt = now

	return nil
}

// Complete marks the lead terminal-success.
func (l *Lead) Complete(now time.Time) error {
	if l.IsTerminal() {
		return ErrLeadTerminal
	}

	l.Status = LeadStatusCompleted
	l.CompletedAt = &now
	l.NextNode = ""
	l.WaitUntil = nil
	l.ScheduledTimerID = ""
	l.UpdatedAt = now

	return nil
}

// Fail marks the lead terminal-failure and records the reason. Failed leads
// are excluded from all future resumption.
func (l *Lead) Fail(message string, now time.Time) error {
	if l.IsTerminal() {
		return ErrLeadTerminal
	}

	l.Status = LeadStatusFailed
	l.ErrorMessage = message
	l.NextNode = ""
	l.WaitUntil = nil
	l.ScheduledTimerID = ""
	l.UpdatedAt = now

	return nil
}

// HasCompleted reports whether a node's side effects already ran.
func (l *Lead) HasCompleted(nodeID string) bool {
	return slices.Contains(l.CompletedNodes, nodeID)
}

// MarkCompleted records a node in the ledger. A node id appears at most once.
func (l *Lead) MarkCompleted(nodeID string) {
	if !slices.Contains(l.CompletedNodes, nodeID) {
		l.CompletedNodes = append(l.CompletedNodes, nodeID)
	}
}

// HasSentMessage reports whether an action node already dispatched.
func (l *Lead) HasSentMessage(nodeID string) bool {
	return slices.Contains(l.SentMessages, nodeID)
}

// MarkMessageSent records an outbound dispatch in the ledger. The node is
// also marked completed so the SentMessages ⊆ CompletedNodes invariant holds.
func (l *Lead) MarkMessageSent(nodeID string, now time.Time) {
	if !slices.Contains(l.SentMessages, nodeID) {
		l.SentMessages = append(l.SentMessages, nodeID)
	}

	l.MarkCompleted(nodeID)
	l.MessagesSent++
	l.LastMessageAt = &now
}

// MarkWaitCompleted records a consumed wait node.
func (l *Lead) MarkWaitCompleted(nodeID string) {
	if !slices.Contains(l.CompletedWaits, nodeID) {
		l.CompletedWaits = append(l.CompletedWaits, nodeID)
	}

	l.MarkCompleted(nodeID)
}

// ClearLedger removes the given node ids from the completion sets. Used when
// an event-driven resume re-enters a subgraph so its nodes are not skipped as
// already done from an earlier pass. SentMessages is deliberately left
// untouched: a dispatched message stays dispatched across a branch switch,
// and re-entering such an action node advances without sending again.
func (l *Lead) ClearLedger(nodeIDs map[string]bool) {
	keep := func(ids []string) []string {
		out := ids[:0]
		for _, id := range ids {
			if !nodeIDs[id] {
				out = append(out, id)
			}
		}

		return out
	}

	l.CompletedNodes = keep(l.CompletedNodes)
	l.CompletedWaits = keep(l.CompletedWaits)
}

// AppendPath records a node visit (or a synthetic marker such as a branch
// switch) in the audit trail. Consecutive duplicates are collapsed.
func (l *Lead) AppendPath(entry string) {
	if n := len(l.ExecutionPath); n > 0 && l.ExecutionPath[n-1] == entry {
		return
	}

	l.ExecutionPath = append(l.ExecutionPath, entry)
}
