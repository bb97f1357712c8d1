package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence/file"
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

func validCampaign() *models.Campaign {
	return &models.Campaign{
		Name: "welcome drip",
		Nodes: []*models.Node{
			{ID: "start-1", Kind: models.NodeKindStart},
			{ID: "email-1", Kind: models.NodeKindAction, Config: map[string]any{"subject": "Hi", "body": "<p>Hi</p>"}},
			{ID: "end-1", Kind: models.NodeKindEnd},
		},
		Connections: []*models.Connection{
			{FromNode: "start-1", ToNode: "email-1", Branch: models.BranchDefault},
			{FromNode: "email-1", ToNode: "end-1", Branch: models.BranchDefault},
		},
	}
}

func newCampaignService(t *testing.T) (*Campaign, *capturingPublisher, *file.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	publisher := &capturingPublisher{}
	service := NewCampaign(p, publisher, slog.Default())

	return service, publisher, p
}

func TestCampaignCreate(t *testing.T) {
	service, _, _ := newCampaignService(t)

	created, err := service.Create(context.Background(), validCampaign())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.CampaignStatusReady, created.Status)
	assert.Equal(t, "start-1", created.StartNode)
}

func TestCampaignCreateRejectsBadGraph(t *testing.T) {
	service, _, _ := newCampaignService(t)

	campaign := validCampaign()
	campaign.Connections = campaign.Connections[:1]

	_, err := service.Create(context.Background(), campaign)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGraph)
	assert.True(t, IsValidationError(err))
}

func TestCampaignCreateRejectsBadNodeConfig(t *testing.T) {
	service, _, _ := newCampaignService(t)

	campaign := validCampaign()
	campaign.Nodes[1].Config = map[string]any{"subject": "Hi"}

	_, err := service.Create(context.Background(), campaign)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidGraph)
}

func TestCampaignCreateRequiresName(t *testing.T) {
	service, _, _ := newCampaignService(t)

	campaign := validCampaign()
	campaign.Name = ""

	_, err := service.Create(context.Background(), campaign)
	assert.ErrorIs(t, err, ErrCampaignNameRequired)
}

func TestCampaignStartEnrollsAndPublishes(t *testing.T) {
	service, publisher, p := newCampaignService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, validCampaign())
	require.NoError(t, err)

	leads, err := service.Start(ctx, created.ID, []Contact{
		{Name: "Ada", Email: "ada@example.com"},
		{Name: "Grace", Email: "grace@example.com"},
	})
	require.NoError(t, err)
	require.Len(t, leads, 2)

	for _, lead := range leads {
		assert.Equal(t, models.LeadStatusPending, lead.Status)
		assert.Equal(t, "start-1", lead.CurrentNode)
	}

	stored, err := p.Campaigns().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusRunning, stored.Status)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Len(t, publisher.events, 2)

	for _, e := range publisher.events {
		_, ok := e.(events.LeadRunRequested)
		assert.True(t, ok)
	}
}

func TestCampaignStartTwiceConflicts(t *testing.T) {
	service, _, _ := newCampaignService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, validCampaign())
	require.NoError(t, err)

	contacts := []Contact{{Name: "Ada", Email: "ada@example.com"}}

	_, err = service.Start(ctx, created.ID, contacts)
	require.NoError(t, err)

	_, err = service.Start(ctx, created.ID, contacts)
	assert.ErrorIs(t, err, ErrCampaignAlreadyStarted)
	assert.True(t, IsConflictError(err))
}

func TestCampaignStartRequiresContacts(t *testing.T) {
	service, _, _ := newCampaignService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, validCampaign())
	require.NoError(t, err)

	_, err = service.Start(ctx, created.ID, nil)
	assert.ErrorIs(t, err, ErrNoContacts)
}

func TestCompletionMonitor(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	publisher := &capturingPublisher{}
	monitor := NewCompletionMonitor(p, publisher, slog.Default())

	ctx := context.Background()
	now := time.Now().UTC()

	campaign := validCampaign()
	campaign.ID = "camp-1"
	campaign.Status = models.CampaignStatusRunning
	require.NoError(t, p.Campaigns().Create(ctx, campaign))

	done := models.NewLead("lead-1", "camp-1", "Ada", "ada@example.com", "start-1", now)
	require.NoError(t, done.Start(now))
	require.NoError(t, done.Complete(now))

	active := models.NewLead("lead-2", "camp-1", "Grace", "grace@example.com", "start-1", now)

	require.NoError(t, p.Leads().CreateBatch(ctx, []*models.Lead{done, active}))

	// One lead still pending: nothing happens.
	require.NoError(t, monitor.CheckCompletion(ctx, "camp-1"))

	stored, err := p.Campaigns().GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusRunning, stored.Status)

	// Last lead fails: the campaign completes regardless of lead outcome.
	fresh, err := p.Leads().GetByID(ctx, "lead-2")
	require.NoError(t, err)
	require.NoError(t, fresh.Fail("bad config", now))
	require.NoError(t, p.Leads().Save(ctx, fresh))

	require.NoError(t, monitor.CheckCompletion(ctx, "camp-1"))

	stored, err = p.Campaigns().GetByID(ctx, "camp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, stored.Status)

	// Re-checking a completed campaign is a no-op and publishes nothing new.
	require.NoError(t, monitor.CheckCompletion(ctx, "camp-1"))

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Len(t, publisher.events, 1)

	_, ok := publisher.events[0].(events.CampaignCompleted)
	assert.True(t, ok)
}

func TestCompletionMonitorIgnoresEmptyCampaign(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	monitor := NewCompletionMonitor(p, &capturingPublisher{}, slog.Default())

	ctx := context.Background()

	campaign := validCampaign()
	campaign.ID = "camp-empty"
	campaign.Status = models.CampaignStatusRunning
	require.NoError(t, p.Campaigns().Create(ctx, campaign))

	require.NoError(t, monitor.CheckCompletion(ctx, "camp-empty"))

	stored, err := p.Campaigns().GetByID(ctx, "camp-empty")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusRunning, stored.Status, "a campaign with no leads never auto-completes")
}
