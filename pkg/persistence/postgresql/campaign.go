package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// CampaignRepository handles campaign-related database operations.
type CampaignRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCampaignRepository creates a new campaign repository.
func NewCampaignRepository(db *sql.DB, logger *slog.Logger) *CampaignRepository {
	return &CampaignRepository{db: db, logger: logger}
}

func (r *CampaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	nodesJSON, connectionsJSON, err := marshalGraph(campaign)
	if err != nil {
		return persistence.NewCampaignError("Create", campaign.ID, err)
	}

	query := `
		INSERT INTO campaigns (
			id, name, status, nodes, connections, start_node,
			error_message, created_at, updated_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		campaign.ID,
		campaign.Name,
		campaign.Status,
		nodesJSON,
		connectionsJSON,
		campaign.StartNode,
		campaign.ErrorMessage,
		campaign.CreatedAt,
		campaign.UpdatedAt,
		campaign.CompletedAt,
	)
	if err != nil {
		return persistence.NewCampaignError("Create", campaign.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewCampaignError("Create", campaign.ID, err)
	}

	if affected == 0 {
		return persistence.NewCampaignError("Create", campaign.ID, persistence.ErrCampaignAlreadyExists)
	}

	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	query := `
		SELECT
			id
		  , name
		  , status
		  , nodes
		  , connections
		  , start_node
		  , error_message
		  , created_at
		  , updated_at
		  , completed_at
		FROM campaigns
		WHERE id = $1
	`

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewCampaignError("GetByID", id, persistence.ErrCampaignNotFound)
		}

		return nil, persistence.NewCampaignError("GetByID", id, err)
	}

	return campaign, nil
}

func (r *CampaignRepository) Save(ctx context.Context, campaign *models.Campaign) error {
	nodesJSON, connectionsJSON, err := marshalGraph(campaign)
	if err != nil {
		return persistence.NewCampaignError("Save", campaign.ID, err)
	}

	campaign.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE campaigns SET
			name = $2,
			status = $3,
			nodes = $4,
			connections = $5,
			start_node = $6,
			error_message = $7,
			updated_at = $8,
			completed_at = $9
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		campaign.ID,
		campaign.Name,
		campaign.Status,
		nodesJSON,
		connectionsJSON,
		campaign.StartNode,
		campaign.ErrorMessage,
		campaign.UpdatedAt,
		campaign.CompletedAt,
	)
	if err != nil {
		return persistence.NewCampaignError("Save", campaign.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewCampaignError("Save", campaign.ID, err)
	}

	if affected == 0 {
		return persistence.NewCampaignError("Save", campaign.ID, persistence.ErrCampaignNotFound)
	}

	return nil
}

func (r *CampaignRepository) List(ctx context.Context) ([]*models.Campaign, error) {
	query := `
		SELECT
			id
		  , name
		  , status
		  , nodes
		  , connections
		  , start_node
		  , error_message
		  , created_at
		  , updated_at
		  , completed_at
		FROM campaigns
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}

	defer closeRows(ctx, rows, r.logger)

	campaigns := make([]*models.Campaign, 0)

	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}

		campaigns = append(campaigns, campaign)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating campaigns: %w", err)
	}

	return campaigns, nil
}

func marshalGraph(campaign *models.Campaign) ([]byte, []byte, error) {
	nodesJSON, err := json.Marshal(campaign.Nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal nodes: %w", err)
	}

	connectionsJSON, err := json.Marshal(campaign.Connections)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal connections: %w", err)
	}

	return nodesJSON, connectionsJSON, nil
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var (
		campaign        models.Campaign
		nodesJSON       []byte
		connectionsJSON []byte
		errorMessage    sql.NullString
		completedAt     sql.NullTime
	)

	err := row.Scan(
		&campaign.ID,
		&campaign.Name,
		&campaign.Status,
		&nodesJSON,
		&connectionsJSON,
		&campaign.StartNode,
		&errorMessage,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(nodesJSON, &campaign.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	err = json.Unmarshal(connectionsJSON, &campaign.Connections)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal connections: %w", err)
	}

	campaign.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		completed := completedAt.Time

		campaign.CompletedAt = &completed
	}

	return &campaign, nil
}
