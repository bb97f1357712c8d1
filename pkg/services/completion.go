package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// CompletionMonitor flips a campaign to completed once no lead is still
// active. The engine invokes it after every terminal lead transition; the
// completed write is idempotent, so concurrent checks racing each other are
// harmless.
type CompletionMonitor struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

func NewCompletionMonitor(p persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *CompletionMonitor {
	return &CompletionMonitor{
		persistence: p,
		publisher:   publisher,
		logger:      logger.With("module", "completion_monitor"),
		now:         time.Now,
	}
}

// CheckCompletion counts the campaign's non-terminal leads and completes the
// campaign when none remain and at least one lead exists.
func (m *CompletionMonitor) CheckCompletion(ctx context.Context, campaignID string) error {
	terminal, total, err := m.persistence.Leads().CountByStatus(ctx, campaignID, []models.LeadStatus{
		models.LeadStatusCompleted,
		models.LeadStatusFailed,
	})
	if err != nil {
		return err
	}

	if total == 0 || terminal < total {
		return nil
	}

	campaign, err := m.persistence.Campaigns().GetByID(ctx, campaignID)
	if err != nil {
		return err
	}

	if campaign.Status == models.CampaignStatusCompleted {
		return nil
	}

	now := m.now().UTC()
	campaign.MarkCompleted(now)

	if err := m.persistence.Campaigns().Save(ctx, campaign); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Campaign completed", "campaign_id", campaignID, "leads", total)

	event := events.CampaignCompleted{
		BaseEvent: events.BaseEvent{
			ID:         uuid.New().String(),
			Type:       events.CampaignCompletedEvent,
			Timestamp:  now,
			CampaignID: campaignID,
		},
	}

	if err := m.publisher.Publish(ctx, campaignID, event); err != nil {
		m.logger.ErrorContext(ctx, "Failed to publish campaign completion", "error", err)
	}

	return nil
}
