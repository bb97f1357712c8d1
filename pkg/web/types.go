// Package web provides the HTTP handlers for campaign management and the
// tracking callback endpoints.
package web

import "github.com/dripflow/dripflow/pkg/models"

// CreateCampaignRequest is the request body for defining a campaign graph.
type CreateCampaignRequest struct {
	Name        string              `json:"name"        validate:"required,min=3"`
	Nodes       []NodeRequest       `json:"nodes"       validate:"required,min=1,dive"`
	Connections []ConnectionRequest `json:"connections" validate:"dive"`
}

// NodeRequest is one node of an incoming graph definition.
type NodeRequest struct {
	ID     string         `json:"id"     validate:"required"`
	Kind   string         `json:"kind"   validate:"required,oneof=start action wait condition end"`
	Config map[string]any `json:"config"`
}

// ConnectionRequest is one edge of an incoming graph definition.
type ConnectionRequest struct {
	FromNode string `json:"from_node" validate:"required"`
	ToNode   string `json:"to_node"   validate:"required"`
	Branch   string `json:"branch"    validate:"omitempty,oneof=default yes no"`
}

// StartCampaignRequest carries inline contacts for campaign start. The CSV
// upload variant goes through multipart instead.
type StartCampaignRequest struct {
	Contacts []ContactRequest `json:"contacts" validate:"required,min=1,dive"`
}

// ContactRequest is one enrollment entry.
type ContactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"required,email"`
}

// StartCampaignResponse reports how many leads were enrolled.
type StartCampaignResponse struct {
	CampaignID string   `json:"campaign_id"`
	LeadIDs    []string `json:"lead_ids"`
	Enrolled   int      `json:"enrolled"`
}

func (r CreateCampaignRequest) toModel() *models.Campaign {
	campaign := &models.Campaign{
		Name:        r.Name,
		Nodes:       make([]*models.Node, 0, len(r.Nodes)),
		Connections: make([]*models.Connection, 0, len(r.Connections)),
	}

	for _, n := range r.Nodes {
		campaign.Nodes = append(campaign.Nodes, &models.Node{
			ID:     n.ID,
			Kind:   models.NodeKind(n.Kind),
			Config: n.Config,
		})
	}

	for _, c := range r.Connections {
		branch := models.Branch(c.Branch)
		if branch == "" {
			branch = models.BranchDefault
		}

		campaign.Connections = append(campaign.Connections, &models.Connection{
			FromNode: c.FromNode,
			ToNode:   c.ToNode,
			Branch:   branch,
		})
	}

	return campaign
}
