package file

import (
	"context"
	"os"
	"sort"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

const campaignsCollection = "campaigns"

// CampaignRepository stores campaigns as individual JSON documents.
type CampaignRepository struct {
	p *Persistence
}

func (r *CampaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, err := os.Stat(r.p.path(campaignsCollection, campaign.ID)); err == nil {
		return persistence.NewCampaignError("Create", campaign.ID, persistence.ErrCampaignAlreadyExists)
	}

	return r.p.writeDoc(campaignsCollection, campaign.ID, campaign)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var campaign models.Campaign
	if err := r.p.readDoc(campaignsCollection, id, &campaign); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewCampaignError("GetByID", id, persistence.ErrCampaignNotFound)
		}

		return nil, err
	}

	return &campaign, nil
}

func (r *CampaignRepository) Save(ctx context.Context, campaign *models.Campaign) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.writeDoc(campaignsCollection, campaign.ID, campaign)
}

func (r *CampaignRepository) List(ctx context.Context) ([]*models.Campaign, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	campaigns, err := readAll[models.Campaign](r.p, campaignsCollection)
	if err != nil {
		return nil, err
	}

	sort.Slice(campaigns, func(i, j int) bool {
		return campaigns[i].CreatedAt.Before(campaigns[j].CreatedAt)
	})

	return campaigns, nil
}
