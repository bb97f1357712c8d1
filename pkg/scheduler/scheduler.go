// Package scheduler implements the centralized durable-timer orchestrator.
// Timers live in the database with a precomputed fire instant; a single
// poller wakes on a fixed interval, claims due timers and publishes resume
// events. Because the claim (MarkFired) is atomic, a timer resumes a lead at
// most once even with several pollers running.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dripflow/dripflow/pkg/eventbus"
	"github.com/dripflow/dripflow/pkg/events"
	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// CancelResult reports what a cancellation actually achieved.
type CancelResult string

const (
	// CancelRevoked means the timer was canceled before it fired; its resume
	// event will never be published.
	CancelRevoked CancelResult = "revoked"

	// CancelUnknown means the timer already fired (or was never found); a
	// resume event may arrive and must be discarded by the staleness check.
	CancelUnknown CancelResult = "unknown"
)

// Scheduler arms and revokes durable resume timers.
type Scheduler interface {
	Schedule(ctx context.Context, timer *models.Timer) error
	Cancel(ctx context.Context, timerID string) (CancelResult, error)
}

const defaultPollInterval = 5 * time.Second
const dueBatchLimit = 100

// DurableScheduler is the database-backed Scheduler plus its poller. Schedule
// and Cancel work whether or not the poller is started, so API processes can
// share the type with worker processes that actually poll.
type DurableScheduler struct {
	timers    persistence.TimerRepository
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time

	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex
}

func NewDurableScheduler(timers persistence.TimerRepository, publisher eventbus.EventPublisher, logger *slog.Logger) *DurableScheduler {
	return &DurableScheduler{
		timers:    timers,
		publisher: publisher,
		logger:    logger.With("module", "scheduler"),
		interval:  defaultPollInterval,
		now:       time.Now,
	}
}

// Schedule persists the timer. It becomes visible to every poller instance
// immediately and survives restarts.
func (s *DurableScheduler) Schedule(ctx context.Context, timer *models.Timer) error {
	if timer.CreatedAt.IsZero() {
		timer.CreatedAt = s.now().UTC()
	}

	err := s.timers.Create(ctx, timer)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Timer scheduled",
		"timer_id", timer.ID,
		"lead_id", timer.LeadID,
		"kind", timer.Kind,
		"fire_at", timer.FireAt)

	return nil
}

// Cancel revokes a pending timer. The flip races the poller's MarkFired, so
// the caller learns whether the revocation actually won.
func (s *DurableScheduler) Cancel(ctx context.Context, timerID string) (CancelResult, error) {
	if timerID == "" {
		return CancelUnknown, nil
	}

	ok, err := s.timers.MarkCanceled(ctx, timerID)
	if err != nil {
		return CancelUnknown, err
	}

	if !ok {
		return CancelUnknown, nil
	}

	s.logger.InfoContext(ctx, "Timer canceled", "timer_id", timerID)

	return CancelRevoked, nil
}

// Start begins the centralized poller.
func (s *DurableScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.InfoContext(ctx, "Starting timer poller", "interval", s.interval)

	s.ticker = time.NewTicker(s.interval)
	s.done = make(chan bool)
	s.started = true

	go s.poll(ctx)

	return nil
}

// Stop gracefully shuts down the poller.
func (s *DurableScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.ticker.Stop()

	select {
	case s.done <- true:
	default:
	}

	s.started = false
	s.logger.InfoContext(ctx, "Timer poller stopped")

	return nil
}

func (s *DurableScheduler) poll(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.ProcessDueTimers(ctx)
		}
	}
}

// ProcessDueTimers runs one poll cycle: claim every due timer and publish its
// resume event. Publishing happens after the claim, so a crash between the
// two loses the event; the recovery sweep re-publishes for leads stuck past
// their deadline, which keeps delivery at-least-once overall.
func (s *DurableScheduler) ProcessDueTimers(ctx context.Context) {
	now := s.now().UTC()

	due, err := s.timers.ListDue(ctx, now, dueBatchLimit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list due timers", "error", err)

		return
	}

	if len(due) > 0 {
		s.logger.InfoContext(ctx, "Processing due timers", "count", len(due))
	}

	for _, timer := range due {
		fired, err := s.timers.MarkFired(ctx, timer.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to claim timer", "timer_id", timer.ID, "error", err)

			continue
		}

		if !fired {
			// Another poller claimed it, or a concurrent cancel won.
			continue
		}

		err = s.publishResume(ctx, timer)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish resume event",
				"timer_id", timer.ID,
				"lead_id", timer.LeadID,
				"error", err)
		}
	}
}

func (s *DurableScheduler) publishResume(ctx context.Context, timer *models.Timer) error {
	event := events.LeadResumeDue{
		BaseEvent: events.BaseEvent{
			ID:         timer.ID,
			Type:       events.LeadResumeDueEvent,
			Timestamp:  s.now().UTC(),
			CampaignID: timer.CampaignID,
		},
		LeadID:  timer.LeadID,
		TimerID: timer.ID,
		NodeID:  timer.NodeID,
		Kind:    timer.Kind,
	}

	return s.publisher.Publish(ctx, timer.LeadID, event)
}
