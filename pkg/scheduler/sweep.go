package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// graceWindow is how far past its wait deadline a paused lead must be before
// the sweep considers its timer lost. Must exceed the poller interval by a
// comfortable margin to avoid racing a healthy poll cycle.
const graceWindow = 30 * time.Minute

// RecoverySweep periodically re-publishes resume events for paused leads
// whose deadline passed without a timer firing, typically after a crash
// between a timer claim and its publish. The flow engine's staleness checks
// make a spurious re-publish harmless.
type RecoverySweep struct {
	leads     persistence.LeadRepository
	timers    persistence.TimerRepository
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	cron *cron.Cron
}

func NewRecoverySweep(
	leads persistence.LeadRepository,
	timers persistence.TimerRepository,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *RecoverySweep {
	return &RecoverySweep{
		leads:     leads,
		timers:    timers,
		publisher: publisher,
		logger:    logger.With("module", "recovery_sweep"),
		now:       time.Now,
	}
}

// Start registers the sweep on the given cron schedule (standard five-field
// syntax) and starts it.
func (r *RecoverySweep) Start(ctx context.Context, schedule string) error {
	r.cron = cron.New()

	_, err := r.cron.AddFunc(schedule, func() {
		r.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	r.cron.Start()
	r.logger.InfoContext(ctx, "Recovery sweep started", "schedule", schedule)

	return nil
}

func (r *RecoverySweep) Stop(ctx context.Context) {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}

	r.logger.InfoContext(ctx, "Recovery sweep stopped")
}

// Sweep runs one pass over stuck leads.
func (r *RecoverySweep) Sweep(ctx context.Context) {
	deadline := r.now().UTC().Add(-graceWindow)

	stuck, err := r.leads.ListPausedBefore(ctx, deadline)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to list stuck leads", "error", err)

		return
	}

	if len(stuck) == 0 {
		return
	}

	r.logger.WarnContext(ctx, "Recovering stuck leads", "count", len(stuck))

	for _, lead := range stuck {
		r.recover(ctx, lead)
	}
}

func (r *RecoverySweep) recover(ctx context.Context, lead *models.Lead) {
	kind := models.TimerKindWait

	if lead.ScheduledTimerID != "" {
		// Claim the lost timer so a late poller cannot fire it a second time.
		// Either flip outcome is fine: the engine discards stale resumes.
		if _, err := r.timers.MarkFired(ctx, lead.ScheduledTimerID); err != nil {
			r.logger.ErrorContext(ctx, "Failed to claim lost timer",
				"lead_id", lead.ID,
				"timer_id", lead.ScheduledTimerID,
				"error", err)
		}

		if timer, err := r.timers.GetByID(ctx, lead.ScheduledTimerID); err == nil {
			kind = timer.Kind
		}
	}

	event := events.LeadResumeDue{
		BaseEvent: events.BaseEvent{
			ID:         uuid.New().String(),
			Type:       events.LeadResumeDueEvent,
			Timestamp:  r.now().UTC(),
			CampaignID: lead.CampaignID,
		},
		LeadID:  lead.ID,
		TimerID: lead.ScheduledTimerID,
		NodeID:  lead.CurrentNode,
		Kind:    kind,
	}

	err := r.publisher.Publish(ctx, lead.ID, event)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish recovery resume",
			"lead_id", lead.ID,
			"error", err)

		return
	}

	r.logger.InfoContext(ctx, "Republished resume for stuck lead",
		"lead_id", lead.ID,
		"wait_until", lead.WaitUntil)
}
