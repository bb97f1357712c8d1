package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeadLifecycle(t *testing.T) {
	now := time.Now().UTC()
	lead := NewLead("lead-1", "campaign-1", "Ada", "ada@example.com", "start-1", now)

	assert.Equal(t, LeadStatusPending, lead.Status)
	assert.Equal(t, "start-1", lead.CurrentNode)
	assert.Equal(t, []string{"start-1"}, lead.ExecutionPath)

	require.NoError(t, lead.Start(now))
	assert.Equal(t, LeadStatusRunning, lead.Status)
	require.NotNil(t, lead.StartedAt)

	deadline := now.Add(5 * time.Minute)
	require.NoError(t, lead.Pause("next-1", &deadline, "timer-1", now))
	assert.Equal(t, LeadStatusPaused, lead.Status)
	assert.Equal(t, "next-1", lead.NextNode)
	assert.Equal(t, "timer-1", lead.ScheduledTimerID)

	require.NoError(t, lead.Resume(now))
	assert.Equal(t, LeadStatusRunning, lead.Status)
	assert.Empty(t, lead.NextNode)
	assert.Nil(t, lead.WaitUntil)
	assert.Empty(t, lead.ScheduledTimerID)

	require.NoError(t, lead.Complete(now))
	assert.Equal(t, LeadStatusCompleted, lead.Status)
	require.NotNil(t, lead.CompletedAt)
}

func TestLeadTerminalIsImmutable(t *testing.T) {
	now := time.Now().UTC()

	completed := NewLead("lead-1", "c-1", "", "a@example.com", "start-1", now)
	require.NoError(t, completed.Complete(now))

	assert.ErrorIs(t, completed.Start(now), ErrLeadTerminal)
	assert.ErrorIs(t, completed.Resume(now), ErrLeadTerminal)
	assert.ErrorIs(t, completed.Fail("late", now), ErrLeadTerminal)
	assert.Empty(t, completed.ErrorMessage)

	failed := NewLead("lead-2", "c-1", "", "b@example.com", "start-1", now)
	require.NoError(t, failed.Fail("boom", now))

	assert.ErrorIs(t, failed.Complete(now), ErrLeadTerminal)
	assert.Equal(t, "boom", failed.ErrorMessage)
	assert.Nil(t, failed.CompletedAt)
}

func TestLeadLedger(t *testing.T) {
	now := time.Now().UTC()
	lead := NewLead("lead-1", "c-1", "", "a@example.com", "start-1", now)

	lead.MarkMessageSent("email-1", now)
	lead.MarkMessageSent("email-1", now)

	assert.Equal(t, []string{"email-1"}, lead.SentMessages)
	assert.Equal(t, []string{"email-1"}, lead.CompletedNodes)
	assert.Equal(t, 2, lead.MessagesSent)

	lead.MarkWaitCompleted("wait-1")
	assert.True(t, lead.HasCompleted("wait-1"))
	assert.Equal(t, []string{"wait-1"}, lead.CompletedWaits)

	// sent_messages must stay a subset of completed_nodes
	for _, id := range lead.SentMessages {
		assert.True(t, lead.HasCompleted(id))
	}
}

func TestLeadClearLedger(t *testing.T) {
	now := time.Now().UTC()
	lead := NewLead("lead-1", "c-1", "", "a@example.com", "start-1", now)

	lead.MarkMessageSent("email-1", now)
	lead.MarkWaitCompleted("wait-1")
	lead.MarkCompleted("cond-1")

	lead.ClearLedger(map[string]bool{"email-1": true, "wait-1": true})

	assert.Equal(t, []string{"cond-1"}, lead.CompletedNodes)
	assert.Equal(t, []string{"email-1"}, lead.SentMessages, "dispatched messages survive a ledger clear")
	assert.Empty(t, lead.CompletedWaits)
}

func TestLeadAppendPathCollapsesDuplicates(t *testing.T) {
	now := time.Now().UTC()
	lead := NewLead("lead-1", "c-1", "", "a@example.com", "start-1", now)

	lead.AppendPath("email-1")
	lead.AppendPath("email-1")
	lead.AppendPath("end-1")

	assert.Equal(t, []string{"start-1", "email-1", "end-1"}, lead.ExecutionPath)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name    string
		amount  int
		unit    DurationUnit
		want    time.Duration
		wantErr bool
	}{
		{name: "minutes", amount: 5, unit: UnitMinutes, want: 5 * time.Minute},
		{name: "hours", amount: 2, unit: UnitHours, want: 2 * time.Hour},
		{name: "days", amount: 3, unit: UnitDays, want: 72 * time.Hour},
		{name: "zero amount", amount: 0, unit: UnitMinutes, wantErr: true},
		{name: "negative amount", amount: -1, unit: UnitDays, wantErr: true},
		{name: "unknown unit", amount: 1, unit: "weeks", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDuration(tt.amount, tt.unit)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidDuration)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimerIsDue(t *testing.T) {
	now := time.Now().UTC()

	timer := &Timer{ID: "t-1", FireAt: now.Add(-time.Second)}
	assert.True(t, timer.IsDue(now))

	timer.Canceled = true
	assert.False(t, timer.IsDue(now))

	future := &Timer{ID: "t-2", FireAt: now.Add(time.Minute)}
	assert.False(t, future.IsDue(now))

	fired := &Timer{ID: "t-3", FireAt: now.Add(-time.Minute), Fired: true}
	assert.False(t, fired.IsDue(now))
}

func TestWaitingEventMarkProcessed(t *testing.T) {
	now := time.Now().UTC()
	event := &WaitingEvent{ID: "e-1", LeadID: "lead-1", Kind: EventKindOpened}

	assert.True(t, event.MarkProcessed(now))
	assert.False(t, event.MarkProcessed(now), "second consume must be rejected")
	require.NotNil(t, event.ProcessedAt)
}
