package flow

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/lock"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence/file"
	"github.com/dripflow/dripflow/pkg/scheduler"
	"github.com/dripflow/dripflow/pkg/tracking"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (c *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, event)

	return nil
}

func (c *capturingPublisher) dispatchRequests() []events.MessageDispatchRequested {
	c.mu.Lock()
	defer c.mu.Unlock()

	var requests []events.MessageDispatchRequested

	for _, e := range c.events {
		if req, ok := e.(events.MessageDispatchRequested); ok {
			requests = append(requests, req)
		}
	}

	return requests
}

type stubMonitor struct {
	mu      sync.Mutex
	checked []string
}

func (m *stubMonitor) CheckCompletion(_ context.Context, campaignID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checked = append(m.checked, campaignID)

	return nil
}

type engineEnv struct {
	engine    *Engine
	store     *file.Persistence
	tracker   *tracking.Store
	sched     *scheduler.DurableScheduler
	publisher *capturingPublisher
	monitor   *stubMonitor
	root      string
}

func newEngineEnv(t *testing.T) *engineEnv {
	t.Helper()

	return newEngineEnvAt(t, t.TempDir())
}

// newEngineEnvAt builds an engine over an explicit data directory so tests
// can simulate a process restart by constructing a second environment on the
// same directory.
func newEngineEnvAt(t *testing.T, root string) *engineEnv {
	t.Helper()

	logger := slog.Default()
	store := file.NewPersistence(root)
	publisher := &capturingPublisher{}
	monitor := &stubMonitor{}
	tracker := tracking.NewStore(store.WaitingEvents(), logger)
	sched := scheduler.NewDurableScheduler(store.Timers(), publisher, logger)

	engine := NewEngine(store, tracker, sched, publisher, lock.NewMemoryLocker(), monitor, logger, "test-worker")

	return &engineEnv{
		engine:    engine,
		store:     store,
		tracker:   tracker,
		sched:     sched,
		publisher: publisher,
		monitor:   monitor,
		root:      root,
	}
}

func (env *engineEnv) enroll(t *testing.T, campaign *models.Campaign) *models.Lead {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, env.store.Campaigns().Create(ctx, campaign))

	lead := models.NewLead("lead-1", campaign.ID, "Ada", "ada@example.com", campaign.StartNode, time.Now().UTC())
	require.NoError(t, env.store.Leads().CreateBatch(ctx, []*models.Lead{lead}))

	return lead
}

func (env *engineEnv) reload(t *testing.T, leadID string) *models.Lead {
	t.Helper()

	lead, err := env.store.Leads().GetByID(context.Background(), leadID)
	require.NoError(t, err)

	return lead
}

// pauseAtWait drives a fresh lead through the branching campaign up to the
// timeout wait node: run, acknowledge the first email, land on wait-1.
func (env *engineEnv) pauseAtWait(t *testing.T, lead *models.Lead) *models.Lead {
	t.Helper()

	ctx := context.Background()

	outcome, err := env.engine.Run(ctx, lead.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomePaused, outcome)

	outcome, err = env.engine.HandleDispatchCompleted(ctx, lead.ID, "email-1")
	require.NoError(t, err)
	require.Equal(t, OutcomePaused, outcome)

	paused := env.reload(t, lead.ID)
	require.Equal(t, models.LeadStatusPaused, paused.Status)
	require.Equal(t, "wait-1", paused.CurrentNode)
	require.NotEmpty(t, paused.ScheduledTimerID)

	return paused
}

func TestEngineScenarioLinearCampaign(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	lead := env.enroll(t, linearCampaign())

	outcome, err := env.engine.Run(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaused, outcome)

	requests := env.publisher.dispatchRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, "email-1", requests[0].NodeID)
	assert.Equal(t, "ada@example.com", requests[0].Recipient)
	assert.Equal(t, "Hi Ada", requests[0].Subject, "subject placeholders are personalized")

	// The pause and the ledger entry hit the store before the publish.
	paused := env.reload(t, lead.ID)
	assert.Equal(t, models.LeadStatusPaused, paused.Status)
	assert.Equal(t, []string{"email-1"}, paused.SentMessages)
	assert.Equal(t, "end-1", paused.NextNode)

	// Replaying run against the paused lead is a no-op.
	outcome, err = env.engine.Run(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)
	assert.Len(t, env.publisher.dispatchRequests(), 1)

	outcome, err = env.engine.HandleDispatchCompleted(ctx, lead.ID, "email-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	final := env.reload(t, lead.ID)
	assert.Equal(t, models.LeadStatusCompleted, final.Status)
	assert.Equal(t, []string{"email-1"}, final.SentMessages)
	assert.Equal(t, []string{"start-1", "email-1", "end-1"}, final.ExecutionPath)
	assert.Equal(t, []string{"camp-linear"}, env.monitor.checked)

	// A duplicate acknowledgement changes nothing.
	outcome, err = env.engine.HandleDispatchCompleted(ctx, lead.ID, "email-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)
	assert.Len(t, env.publisher.dispatchRequests(), 1)
}

func TestEngineScenarioTimeoutPath(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	lead := env.enroll(t, branchingCampaign())

	paused := env.pauseAtWait(t, lead)

	// The condition armed its event race before entering the timeout path.
	waiting, err := env.store.WaitingEvents().ListUnprocessedForNode(ctx, lead.ID, "cond-1")
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, models.EventKindOpened, waiting[0].Kind)
	assert.Equal(t, "email-1", waiting[0].MessageNodeID)

	timer, err := env.store.Timers().GetByID(ctx, paused.ScheduledTimerID)
	require.NoError(t, err)
	assert.Equal(t, models.TimerKindTimeout, timer.Kind)

	outcome, err := env.engine.ResumeByTimer(ctx, lead.ID, paused.ScheduledTimerID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	final := env.reload(t, lead.ID)
	assert.Equal(t, models.LeadStatusCompleted, final.Status)
	assert.Contains(t, final.ExecutionPath, "wait-1")
	assert.NotContains(t, final.ExecutionPath, "bonus-1", "no yes-branch side effects on the timeout path")
	assert.Len(t, env.publisher.dispatchRequests(), 1, "only the initial email was dispatched")
}

func TestEngineScenarioEventWinsRace(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	lead := env.enroll(t, branchingCampaign())

	paused := env.pauseAtWait(t, lead)
	timerID := paused.ScheduledTimerID

	consumed, err := env.tracker.ConsumeOldest(ctx, lead.ID, lead.CampaignID, models.EventKindOpened, "")
	require.NoError(t, err)
	require.NotNil(t, consumed)
	require.Equal(t, "cond-1", consumed.ConditionNodeID)

	outcome, err := env.engine.ResumeByEvent(ctx, lead.ID, consumed.ConditionNodeID)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaused, outcome, "the yes branch pauses on the bonus dispatch")

	switched := env.reload(t, lead.ID)
	assert.Contains(t, switched.ExecutionPath, "branch:yes:cond-1")
	assert.Equal(t, "bonus-1", switched.CurrentNode)

	timer, err := env.store.Timers().GetByID(ctx, timerID)
	require.NoError(t, err)
	assert.True(t, timer.Canceled, "the timeout timer was revoked")

	// A late timer firing is discarded.
	outcome, err = env.engine.ResumeByTimer(ctx, lead.ID, timerID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)

	outcome, err = env.engine.HandleDispatchCompleted(ctx, lead.ID, "bonus-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	requests := env.publisher.dispatchRequests()
	bonusSends := 0

	for _, req := range requests {
		if req.NodeID == "bonus-1" {
			bonusSends++
		}
	}

	assert.Equal(t, 1, bonusSends, "the bonus action dispatched exactly once")

	final := env.reload(t, lead.ID)
	assert.Equal(t, models.LeadStatusCompleted, final.Status)
}

func TestEngineResumeByTimerIsIdempotent(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	lead := env.enroll(t, branchingCampaign())

	paused := env.pauseAtWait(t, lead)

	outcome, err := env.engine.ResumeByTimer(ctx, lead.ID, paused.ScheduledTimerID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	outcome, err = env.engine.ResumeByTimer(ctx, lead.ID, paused.ScheduledTimerID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome, "the second firing observes terminal state and aborts")
}

func TestEngineConcurrentRaceResolvesToOneWinner(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	lead := env.enroll(t, branchingCampaign())

	paused := env.pauseAtWait(t, lead)
	timerID := paused.ScheduledTimerID

	consumed, err := env.tracker.ConsumeOldest(ctx, lead.ID, lead.CampaignID, models.EventKindOpened, "")
	require.NoError(t, err)
	require.NotNil(t, consumed)

	var wg sync.WaitGroup

	resume := func(fn func() (Outcome, error)) {
		defer wg.Done()

		outcome, err := fn()
		require.NoError(t, err)

		// A worker that loses the lock lets the message redeliver.
		for outcome == OutcomeSkipped {
			outcome, err = fn()
			require.NoError(t, err)
		}
	}

	wg.Add(2)

	go resume(func() (Outcome, error) { return env.engine.ResumeByEvent(ctx, lead.ID, "cond-1") })
	go resume(func() (Outcome, error) { return env.engine.ResumeByTimer(ctx, lead.ID, timerID) })

	wg.Wait()

	final := env.reload(t, lead.ID)

	bonusSends := 0
	for _, req := range env.publisher.dispatchRequests() {
		if req.NodeID == "bonus-1" {
			bonusSends++
		}
	}

	if slices.Contains(final.ExecutionPath, "branch:yes:cond-1") {
		// Event won: exactly one bonus dispatch, timeout path abandoned.
		assert.Equal(t, 1, bonusSends)
		assert.Equal(t, models.LeadStatusPaused, final.Status)
		assert.Equal(t, "bonus-1", final.CurrentNode)
	} else {
		// Timer won: the lead completed down the timeout path untouched.
		assert.Equal(t, 0, bonusSends)
		assert.Equal(t, models.LeadStatusCompleted, final.Status)
	}
}

func TestEngineRoundTripAcrossRestart(t *testing.T) {
	root := t.TempDir()
	env := newEngineEnvAt(t, root)
	ctx := context.Background()
	lead := env.enroll(t, branchingCampaign())

	paused := env.pauseAtWait(t, lead)

	// Fresh process: new persistence handles, new engine, same data dir.
	restarted := newEngineEnvAt(t, root)

	outcome, err := restarted.engine.ResumeByTimer(ctx, lead.ID, paused.ScheduledTimerID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	final := restarted.reload(t, lead.ID)
	assert.Equal(t, models.LeadStatusCompleted, final.Status)
	assert.Contains(t, final.CompletedWaits, "wait-1")
}

func TestEngineFailsLeadOnBadWaitConfig(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	campaign := branchingCampaign()

	for _, n := range campaign.Nodes {
		if n.ID == "wait-1" {
			n.Config = map[string]any{"amount": -1, "unit": "minutes"}
		}
	}

	lead := env.enroll(t, campaign)

	outcome, err := env.engine.Run(ctx, lead.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomePaused, outcome)

	outcome, err = env.engine.HandleDispatchCompleted(ctx, lead.ID, "email-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	final := env.reload(t, lead.ID)
	assert.Equal(t, models.LeadStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "configuration error")
	assert.Equal(t, []string{campaign.ID}, env.monitor.checked, "a failed lead still triggers the completion check")
}

func TestEngineDispatchFailureFailsLead(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	lead := env.enroll(t, linearCampaign())

	outcome, err := env.engine.Run(ctx, lead.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomePaused, outcome)

	outcome, err = env.engine.HandleDispatchFailed(ctx, lead.ID, "email-1", "mailbox unavailable")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	final := env.reload(t, lead.ID)
	assert.Equal(t, models.LeadStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "mailbox unavailable")
}

func TestEngineStaleEventResumeAfterCompletion(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	lead := env.enroll(t, branchingCampaign())

	paused := env.pauseAtWait(t, lead)

	outcome, err := env.engine.ResumeByTimer(ctx, lead.ID, paused.ScheduledTimerID)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, outcome)

	outcome, err = env.engine.ResumeByEvent(ctx, lead.ID, "cond-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome, "events against a terminal lead are ignored")
}
