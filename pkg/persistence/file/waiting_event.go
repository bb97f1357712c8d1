package file

import (
	"context"
	"sort"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
)

const eventsCollection = "waiting_events"

// WaitingEventRepository stores waiting events as JSON documents.
type WaitingEventRepository struct {
	p *Persistence
}

func (r *WaitingEventRepository) Create(ctx context.Context, event *models.WaitingEvent) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.writeDoc(eventsCollection, event.ID, event)
}

func (r *WaitingEventRepository) ListUnprocessed(ctx context.Context, leadID, campaignID string, kind models.EventKind) ([]*models.WaitingEvent, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	all, err := readAll[models.WaitingEvent](r.p, eventsCollection)
	if err != nil {
		return nil, err
	}

	var events []*models.WaitingEvent

	for _, event := range all {
		if event.Processed || event.LeadID != leadID || event.Kind != kind {
			continue
		}

		if campaignID != "" && event.CampaignID != campaignID {
			continue
		}

		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})

	return events, nil
}

func (r *WaitingEventRepository) ListUnprocessedForNode(ctx context.Context, leadID, nodeID string) ([]*models.WaitingEvent, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	all, err := readAll[models.WaitingEvent](r.p, eventsCollection)
	if err != nil {
		return nil, err
	}

	var events []*models.WaitingEvent

	for _, event := range all {
		if !event.Processed && event.LeadID == leadID && event.ConditionNodeID == nodeID {
			events = append(events, event)
		}
	}

	return events, nil
}

func (r *WaitingEventRepository) MarkProcessed(ctx context.Context, eventID string, at time.Time) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var event models.WaitingEvent
	if err := r.p.readDoc(eventsCollection, eventID, &event); err != nil {
		return false, err
	}

	if !event.MarkProcessed(at) {
		return false, nil
	}

	if err := r.p.writeDoc(eventsCollection, eventID, &event); err != nil {
		return false, err
	}

	return true, nil
}

func (r *WaitingEventRepository) HasProcessed(ctx context.Context, leadID, campaignID string, kind models.EventKind, targetURL string) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	all, err := readAll[models.WaitingEvent](r.p, eventsCollection)
	if err != nil {
		return false, err
	}

	for _, event := range all {
		if !event.Processed || event.LeadID != leadID || event.Kind != kind {
			continue
		}

		if campaignID != "" && event.CampaignID != campaignID {
			continue
		}

		if targetURL != "" && event.TargetURL != targetURL {
			continue
		}

		return true, nil
	}

	return false, nil
}
