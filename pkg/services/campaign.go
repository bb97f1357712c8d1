package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/flow"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// ErrCampaignNotFound is returned when a campaign is not found.
var ErrCampaignNotFound = persistence.ErrCampaignNotFound

// ErrLeadNotFound is returned when a lead is not found.
var ErrLeadNotFound = persistence.ErrLeadNotFound

// Campaign is the campaign lifecycle service: definition, enrollment and
// start. Lead execution itself belongs to the flow engine; this service only
// hands leads to it by publishing run-requested events.
type Campaign struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

func NewCampaign(p persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Campaign {
	return &Campaign{
		persistence: p,
		publisher:   publisher,
		validator:   validator.New(),
		logger:      logger.With("module", "campaign_service"),
		now:         time.Now,
	}
}

// HealthCheck checks the health of the persistence layer.
func (c *Campaign) HealthCheck(ctx context.Context) (string, bool) {
	if c.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := c.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create validates the graph definition and stores the campaign in ready
// status. Structural and configuration problems are rejected here, before
// any lead can exist.
func (c *Campaign) Create(ctx context.Context, campaign *models.Campaign) (*models.Campaign, error) {
	if campaign.Name == "" {
		return nil, ErrCampaignNameRequired
	}

	if len(campaign.Nodes) == 0 {
		return nil, ErrNodesRequired
	}

	graph, err := flow.Load(campaign)
	if err != nil {
		return nil, NewValidationError("Create", "INVALID_GRAPH", err.Error(), ErrInvalidGraph)
	}

	if err := graph.ValidateConfigs(); err != nil {
		return nil, NewValidationError("Create", "INVALID_NODE_CONFIG", err.Error(), ErrInvalidGraph)
	}

	now := c.now().UTC()
	campaign.ID = uuid.New().String()
	campaign.Status = models.CampaignStatusReady
	campaign.StartNode = graph.StartNode()
	campaign.CreatedAt = now
	campaign.UpdatedAt = now

	if err := c.validator.Struct(campaign); err != nil {
		return nil, NewValidationError("Create", "INVALID_CAMPAIGN", err.Error(), ErrInvalidRequest)
	}

	if err := c.persistence.Campaigns().Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	return campaign, nil
}

// FetchByID retrieves a campaign by its ID.
func (c *Campaign) FetchByID(ctx context.Context, id string) (*models.Campaign, error) {
	campaign, err := c.persistence.Campaigns().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return campaign, nil
}

// List retrieves all campaigns.
func (c *Campaign) List(ctx context.Context) ([]*models.Campaign, error) {
	return c.persistence.Campaigns().List(ctx)
}

// Start enrolls the contacts and kicks off execution: one lead is created
// per contact, the campaign flips to running, and a run-requested event is
// published per lead so the worker pool picks them up independently.
func (c *Campaign) Start(ctx context.Context, campaignID string, contacts []Contact) ([]*models.Lead, error) {
	campaign, err := c.persistence.Campaigns().GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	if campaign.Status == models.CampaignStatusRunning {
		return nil, ErrCampaignAlreadyStarted
	}

	if campaign.Status != models.CampaignStatusReady {
		return nil, ErrCampaignNotReady
	}

	if len(contacts) == 0 {
		return nil, ErrNoContacts
	}

	// The graph is revalidated at start: the stored definition is the truth,
	// not whatever was checked at creation time.
	if _, err := flow.Load(campaign); err != nil {
		campaign.MarkFailed(err.Error(), c.now().UTC())

		if saveErr := c.persistence.Campaigns().Save(ctx, campaign); saveErr != nil {
			c.logger.ErrorContext(ctx, "Failed to record campaign failure", "error", saveErr)
		}

		return nil, NewValidationError("Start", "INVALID_GRAPH", err.Error(), ErrInvalidGraph)
	}

	now := c.now().UTC()
	leads := make([]*models.Lead, 0, len(contacts))

	for _, contact := range contacts {
		leads = append(leads, models.NewLead(
			uuid.New().String(),
			campaign.ID,
			contact.Name,
			contact.Email,
			campaign.StartNode,
			now,
		))
	}

	if err := c.persistence.Leads().CreateBatch(ctx, leads); err != nil {
		return nil, fmt.Errorf("failed to enroll leads: %w", err)
	}

	campaign.Status = models.CampaignStatusRunning
	campaign.UpdatedAt = now

	if err := c.persistence.Campaigns().Save(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to start campaign: %w", err)
	}

	for _, lead := range leads {
		event := events.LeadRunRequested{
			BaseEvent: events.BaseEvent{
				ID:         uuid.New().String(),
				Type:       events.LeadRunRequestedEvent,
				Timestamp:  now,
				CampaignID: campaign.ID,
			},
			LeadID: lead.ID,
		}

		if err := c.publisher.Publish(ctx, lead.ID, event); err != nil {
			// The lead exists but its kick-off was lost; log it and move on.
			// A run can be re-requested without harm thanks to the ledger.
			c.logger.ErrorContext(ctx, "Failed to publish run request",
				"lead_id", lead.ID,
				"error", err)
		}
	}

	c.logger.InfoContext(ctx, "Campaign started",
		"campaign_id", campaign.ID,
		"leads", len(leads))

	return leads, nil
}

// Leads returns all leads of a campaign.
func (c *Campaign) Leads(ctx context.Context, campaignID string) ([]*models.Lead, error) {
	if _, err := c.persistence.Campaigns().GetByID(ctx, campaignID); err != nil {
		return nil, err
	}

	return c.persistence.Leads().ListByCampaign(ctx, campaignID)
}

// Lead returns one lead by id.
func (c *Campaign) Lead(ctx context.Context, leadID string) (*models.Lead, error) {
	return c.persistence.Leads().GetByID(ctx, leadID)
}

// LeadJournal returns the audit trail of one lead.
func (c *Campaign) LeadJournal(ctx context.Context, leadID string) ([]*models.JournalEntry, error) {
	if _, err := c.persistence.Leads().GetByID(ctx, leadID); err != nil {
		return nil, err
	}

	return c.persistence.Journal().ListByLead(ctx, leadID)
}
