// Package persistence provides the data storage abstraction for campaigns,
// leads, waiting events, durable timers and the lead journal.
package persistence

import (
	"context"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
)

// Persistence aggregates the repositories backing the flow engine. All
// implementations provide last-write-wins document semantics except lead
// saves, which are versioned (see LeadRepository.Save).
type Persistence interface {
	Campaigns() CampaignRepository
	Leads() LeadRepository
	WaitingEvents() WaitingEventRepository
	Timers() TimerRepository
	Journal() JournalRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// CampaignRepository stores immutable graph definitions plus run status.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	Save(ctx context.Context, campaign *models.Campaign) error
	List(ctx context.Context) ([]*models.Campaign, error)
}

// LeadRepository stores per-lead execution state. Save performs an
// optimistic version check: the stored version must equal the lead's version
// at load time, otherwise ErrVersionConflict is returned and the caller
// reloads and retries. On success the version is incremented.
type LeadRepository interface {
	CreateBatch(ctx context.Context, leads []*models.Lead) error
	GetByID(ctx context.Context, id string) (*models.Lead, error)
	Save(ctx context.Context, lead *models.Lead) error
	ListByCampaign(ctx context.Context, campaignID string) ([]*models.Lead, error)

	// CountByStatus returns how many of the campaign's leads are in the given
	// statuses, plus the campaign's total lead count.
	CountByStatus(ctx context.Context, campaignID string, statuses []models.LeadStatus) (matched, total int, err error)

	// ListPausedBefore returns paused leads whose wait deadline passed before
	// the given instant. Used by the stuck-lead recovery sweep.
	ListPausedBefore(ctx context.Context, deadline time.Time) ([]*models.Lead, error)
}

// WaitingEventRepository stores the external-signal bridge records.
type WaitingEventRepository interface {
	Create(ctx context.Context, event *models.WaitingEvent) error

	// ListUnprocessed returns unprocessed events for a lead and kind ordered
	// oldest first.
	ListUnprocessed(ctx context.Context, leadID, campaignID string, kind models.EventKind) ([]*models.WaitingEvent, error)

	// ListUnprocessedForNode returns unprocessed events a lead holds for one
	// condition node.
	ListUnprocessedForNode(ctx context.Context, leadID, nodeID string) ([]*models.WaitingEvent, error)

	// MarkProcessed atomically flips processed to true. Returns false when
	// the event was already processed (or does not exist), so exactly one
	// caller ever observes true per event.
	MarkProcessed(ctx context.Context, eventID string, at time.Time) (bool, error)

	// HasProcessed reports whether a processed event of the given kind exists
	// for the lead. An empty targetURL matches any.
	HasProcessed(ctx context.Context, leadID, campaignID string, kind models.EventKind, targetURL string) (bool, error)
}

// TimerRepository stores durable ETA timers for the central scheduler.
type TimerRepository interface {
	Create(ctx context.Context, timer *models.Timer) error
	GetByID(ctx context.Context, id string) (*models.Timer, error)

	// ListDue returns timers due at the given instant, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Timer, error)

	// MarkFired atomically flips fired to true; false means another poller
	// won the race or the timer was canceled first.
	MarkFired(ctx context.Context, id string) (bool, error)

	// MarkCanceled atomically flips canceled to true; false means the timer
	// already fired and may have published its event.
	MarkCanceled(ctx context.Context, id string) (bool, error)
}

// JournalRepository stores the audit trail. Appends are fire-and-forget from
// the engine's point of view: a journal write failure never fails the flow.
type JournalRepository interface {
	Append(ctx context.Context, entry *models.JournalEntry) error
	ListByLead(ctx context.Context, leadID string) ([]*models.JournalEntry, error)
}
