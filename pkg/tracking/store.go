// Package tracking bridges out-of-band open and click signals onto the flow
// engine. The engine registers waiting-event records when a condition node is
// reached; incoming signals consume the oldest matching record, and exactly
// one signal ever wins per record.
package tracking

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// Store manages the waiting-event records that arm condition nodes.
type Store struct {
	events persistence.WaitingEventRepository
	logger *slog.Logger
	now    func() time.Time

	// AllowKindFallback lets a clicked signal without an exact URL match
	// consume a kind-only record. Matches the looser matching the frontend
	// builders rely on.
	AllowKindFallback bool
}

func NewStore(events persistence.WaitingEventRepository, logger *slog.Logger) *Store {
	return &Store{
		events:            events,
		logger:            logger.With("module", "tracking_store"),
		now:               time.Now,
		AllowKindFallback: true,
	}
}

// RecordWaiting arms a condition node for a lead. Re-arming the same node for
// the same lead is a no-op while an unprocessed record exists, so replays
// after a crash do not duplicate listeners.
func (s *Store) RecordWaiting(ctx context.Context, lead *models.Lead, conditionNodeID string, kind models.EventKind, targetURL, messageNodeID string) (*models.WaitingEvent, error) {
	existing, err := s.events.ListUnprocessedForNode(ctx, lead.ID, conditionNodeID)
	if err != nil {
		return nil, err
	}

	if len(existing) > 0 {
		return existing[0], nil
	}

	event := &models.WaitingEvent{
		ID:              uuid.New().String(),
		LeadID:          lead.ID,
		CampaignID:      lead.CampaignID,
		ConditionNodeID: conditionNodeID,
		Kind:            kind,
		TargetURL:       targetURL,
		MessageNodeID:   messageNodeID,
		CreatedAt:       s.now().UTC(),
	}

	err = s.events.Create(ctx, event)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Waiting event armed",
		"lead_id", lead.ID,
		"condition_node_id", conditionNodeID,
		"kind", kind,
		"target_url", targetURL)

	return event, nil
}

// ConsumeOldest matches an incoming signal against the lead's unprocessed
// records and consumes the winner. Exact target-URL matches take priority;
// when none exists and kind fallback is enabled, the oldest record of the
// same kind wins. Returns nil when nothing was waiting, which is how
// duplicate physical deliveries of the same signal become no-ops.
func (s *Store) ConsumeOldest(ctx context.Context, leadID, campaignID string, kind models.EventKind, targetURL string) (*models.WaitingEvent, error) {
	waiting, err := s.events.ListUnprocessed(ctx, leadID, campaignID, kind)
	if err != nil {
		return nil, err
	}

	if len(waiting) == 0 {
		return nil, nil
	}

	candidate := s.pickCandidate(waiting, targetURL)
	if candidate == nil {
		return nil, nil
	}

	consumed, err := s.events.MarkProcessed(ctx, candidate.ID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if !consumed {
		// Lost the race to a concurrent signal; the record is spent.
		return nil, nil
	}

	s.logger.InfoContext(ctx, "Waiting event consumed",
		"lead_id", leadID,
		"event_id", candidate.ID,
		"kind", kind,
		"target_url", targetURL)

	return candidate, nil
}

func (s *Store) pickCandidate(waiting []*models.WaitingEvent, targetURL string) *models.WaitingEvent {
	if targetURL != "" {
		for _, event := range waiting {
			if event.TargetURL == targetURL {
				return event
			}
		}
	}

	if !s.AllowKindFallback && targetURL != "" {
		return nil
	}

	for _, event := range waiting {
		if event.TargetURL == "" || s.AllowKindFallback {
			return event
		}
	}

	return nil
}

// HasAlreadyOccurred reports whether the lead already produced a processed
// signal of this kind, optionally narrowed to one target URL. Condition nodes
// consult this before arming, so a signal that arrived early still routes the
// lead down the yes branch.
func (s *Store) HasAlreadyOccurred(ctx context.Context, leadID, campaignID string, kind models.EventKind, targetURL string) (bool, error) {
	return s.events.HasProcessed(ctx, leadID, campaignID, kind, targetURL)
}

// ClearWaiting consumes every unprocessed record a lead holds for the given
// condition node, disarming it. Used when a branch decision is final.
func (s *Store) ClearWaiting(ctx context.Context, leadID, conditionNodeID string) error {
	waiting, err := s.events.ListUnprocessedForNode(ctx, leadID, conditionNodeID)
	if err != nil {
		return err
	}

	for _, event := range waiting {
		_, err := s.events.MarkProcessed(ctx, event.ID, s.now().UTC())
		if err != nil {
			return err
		}
	}

	return nil
}
