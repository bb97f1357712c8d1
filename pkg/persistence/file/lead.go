package file

import (
	"context"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

const leadsCollection = "leads"

// LeadRepository stores leads with optimistic version checking.
type LeadRepository struct {
	p *Persistence
}

func (r *LeadRepository) CreateBatch(ctx context.Context, leads []*models.Lead) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	for _, lead := range leads {
		if err := r.p.writeDoc(leadsCollection, lead.ID, lead); err != nil {
			return persistence.NewLeadError("CreateBatch", lead.ID, err)
		}
	}

	return nil
}

func (r *LeadRepository) GetByID(ctx context.Context, id string) (*models.Lead, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.getLocked(id)
}

func (r *LeadRepository) getLocked(id string) (*models.Lead, error) {
	var lead models.Lead
	if err := r.p.readDoc(leadsCollection, id, &lead); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewLeadError("GetByID", id, persistence.ErrLeadNotFound)
		}

		return nil, err
	}

	return &lead, nil
}

// Save writes the lead if the stored version still matches the version the
// caller loaded, then increments it. A mismatch means a concurrent writer
// won; the caller reloads and retries.
func (r *LeadRepository) Save(ctx context.Context, lead *models.Lead) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, err := r.getLocked(lead.ID)
	if err == nil && stored.Version != lead.Version {
		return persistence.NewLeadError("Save", lead.ID, persistence.ErrVersionConflict)
	}

	if err != nil && !persistence.IsLeadNotFound(err) {
		return err
	}

	lead.Version++

	return r.p.writeDoc(leadsCollection, lead.ID, lead)
}

func (r *LeadRepository) ListByCampaign(ctx context.Context, campaignID string) ([]*models.Lead, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	all, err := readAll[models.Lead](r.p, leadsCollection)
	if err != nil {
		return nil, err
	}

	leads := make([]*models.Lead, 0, len(all))

	for _, lead := range all {
		if lead.CampaignID == campaignID {
			leads = append(leads, lead)
		}
	}

	sort.Slice(leads, func(i, j int) bool {
		return leads[i].CreatedAt.Before(leads[j].CreatedAt)
	})

	return leads, nil
}

func (r *LeadRepository) CountByStatus(ctx context.Context, campaignID string, statuses []models.LeadStatus) (int, int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	all, err := readAll[models.Lead](r.p, leadsCollection)
	if err != nil {
		return 0, 0, err
	}

	matched, total := 0, 0

	for _, lead := range all {
		if lead.CampaignID != campaignID {
			continue
		}

		total++

		if slices.Contains(statuses, lead.Status) {
			matched++
		}
	}

	return matched, total, nil
}

func (r *LeadRepository) ListPausedBefore(ctx context.Context, deadline time.Time) ([]*models.Lead, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	all, err := readAll[models.Lead](r.p, leadsCollection)
	if err != nil {
		return nil, err
	}

	var due []*models.Lead

	for _, lead := range all {
		if lead.Status == models.LeadStatusPaused && lead.WaitUntil != nil && lead.WaitUntil.Before(deadline) {
			due = append(due, lead)
		}
	}

	return due, nil
}
