package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	p := NewPersistence(t.TempDir())
	require.NoError(t, p.HealthCheck(context.Background()))

	return p
}

func TestCampaignRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)

	campaign := &models.Campaign{
		ID:        "campaign-1",
		Name:      "Welcome Campaign",
		Status:    models.CampaignStatusReady,
		StartNode: "start-1",
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, p.Campaigns().Create(ctx, campaign))

	err := p.Campaigns().Create(ctx, campaign)
	assert.ErrorIs(t, err, persistence.ErrCampaignAlreadyExists)

	loaded, err := p.Campaigns().GetByID(ctx, "campaign-1")
	require.NoError(t, err)
	assert.Equal(t, "Welcome Campaign", loaded.Name)

	_, err = p.Campaigns().GetByID(ctx, "missing")
	assert.True(t, persistence.IsCampaignNotFound(err))
}

func TestLeadRepository_OptimisticSave(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	now := time.Now().UTC()

	lead := models.NewLead("lead-1", "campaign-1", "Ada", "ada@example.com", "start-1", now)
	require.NoError(t, p.Leads().CreateBatch(ctx, []*models.Lead{lead}))

	first, err := p.Leads().GetByID(ctx, "lead-1")
	require.NoError(t, err)

	second, err := p.Leads().GetByID(ctx, "lead-1")
	require.NoError(t, err)

	require.NoError(t, first.Start(now))
	require.NoError(t, p.Leads().Save(ctx, first))

	// second still holds the old version; its save must conflict
	require.NoError(t, second.Start(now))
	err = p.Leads().Save(ctx, second)
	assert.True(t, persistence.IsVersionConflict(err))

	// reload-and-retry succeeds
	reloaded, err := p.Leads().GetByID(ctx, "lead-1")
	require.NoError(t, err)
	require.NoError(t, p.Leads().Save(ctx, reloaded))
}

func TestLeadRepository_CountByStatus(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	now := time.Now().UTC()

	active := models.NewLead("lead-1", "campaign-1", "", "a@example.com", "start-1", now)
	done := models.NewLead("lead-2", "campaign-1", "", "b@example.com", "start-1", now)
	require.NoError(t, done.Complete(now))
	other := models.NewLead("lead-3", "campaign-2", "", "c@example.com", "start-1", now)

	require.NoError(t, p.Leads().CreateBatch(ctx, []*models.Lead{active, done, other}))

	matched, total, err := p.Leads().CountByStatus(ctx, "campaign-1",
		[]models.LeadStatus{models.LeadStatusPending, models.LeadStatusRunning, models.LeadStatusPaused})
	require.NoError(t, err)
	assert.Equal(t, 1, matched)
	assert.Equal(t, 2, total)
}

func TestLeadRepository_ListPausedBefore(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	now := time.Now().UTC()

	overdue := models.NewLead("lead-1", "campaign-1", "", "a@example.com", "start-1", now)
	past := now.Add(-time.Hour)
	require.NoError(t, overdue.Pause("next-1", &past, "timer-1", now))

	pending := models.NewLead("lead-2", "campaign-1", "", "b@example.com", "start-1", now)
	future := now.Add(time.Hour)
	require.NoError(t, pending.Pause("next-1", &future, "timer-2", now))

	require.NoError(t, p.Leads().CreateBatch(ctx, []*models.Lead{overdue, pending}))

	due, err := p.Leads().ListPausedBefore(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "lead-1", due[0].ID)
}

func TestWaitingEventRepository_OrderAndConsume(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	now := time.Now().UTC()

	older := &models.WaitingEvent{
		ID: "event-1", LeadID: "lead-1", CampaignID: "campaign-1",
		ConditionNodeID: "cond-1", Kind: models.EventKindOpened, CreatedAt: now.Add(-time.Minute),
	}
	newer := &models.WaitingEvent{
		ID: "event-2", LeadID: "lead-1", CampaignID: "campaign-1",
		ConditionNodeID: "cond-2", Kind: models.EventKindOpened, CreatedAt: now,
	}

	require.NoError(t, p.WaitingEvents().Create(ctx, newer))
	require.NoError(t, p.WaitingEvents().Create(ctx, older))

	events, err := p.WaitingEvents().ListUnprocessed(ctx, "lead-1", "campaign-1", models.EventKindOpened)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "event-1", events[0].ID, "oldest first")

	ok, err := p.WaitingEvents().MarkProcessed(ctx, "event-1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.WaitingEvents().MarkProcessed(ctx, "event-1", now)
	require.NoError(t, err)
	assert.False(t, ok, "second consume loses")

	processed, err := p.WaitingEvents().HasProcessed(ctx, "lead-1", "campaign-1", models.EventKindOpened, "")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestTimerRepository_FireCancelRace(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	now := time.Now().UTC()

	timer := &models.Timer{
		ID: "timer-1", LeadID: "lead-1", CampaignID: "campaign-1",
		NodeID: "wait-1", Kind: models.TimerKindWait, FireAt: now.Add(-time.Second), CreatedAt: now,
	}
	require.NoError(t, p.Timers().Create(ctx, timer))

	due, err := p.Timers().ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	fired, err := p.Timers().MarkFired(ctx, "timer-1")
	require.NoError(t, err)
	assert.True(t, fired)

	canceled, err := p.Timers().MarkCanceled(ctx, "timer-1")
	require.NoError(t, err)
	assert.False(t, canceled, "cancel after fire must fail")

	due, err = p.Timers().ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestJournalRepository_Append(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	now := time.Now().UTC()

	require.NoError(t, p.Journal().Append(ctx, &models.JournalEntry{
		LeadID: "lead-1", CampaignID: "campaign-1", Timestamp: now, Message: "Lead created.",
	}))
	require.NoError(t, p.Journal().Append(ctx, &models.JournalEntry{
		LeadID: "lead-1", CampaignID: "campaign-1", Timestamp: now, Message: "Executing node.", NodeID: "start-1",
	}))

	entries, err := p.Journal().ListByLead(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Lead created.", entries[0].Message)
}
