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

// LeadRepository handles lead-related database operations.
type LeadRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLeadRepository creates a new lead repository.
func NewLeadRepository(db *sql.DB, logger *slog.Logger) *LeadRepository {
	return &LeadRepository{db: db, logger: logger}
}

const leadColumns = `
	id
  , campaign_id
  , name
  , email
  , status
  , current_node
  , next_node
  , wait_until
  , scheduled_timer_id
  , completed_nodes
  , sent_messages
  , completed_waits
  , execution_path
  , error_message
  , messages_sent
  , last_message_at
  , version
  , created_at
  , updated_at
  , started_at
  , completed_at
`

func (r *LeadRepository) CreateBatch(ctx context.Context, leads []*models.Lead) error {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin lead batch transaction: %w", err)
	}

	query := `
		INSERT INTO leads (
			id, campaign_id, name, email, status, current_node, next_node,
			wait_until, scheduled_timer_id, completed_nodes, sent_messages,
			completed_waits, execution_path, error_message, messages_sent,
			last_message_at, version, created_at, updated_at, started_at,
			completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	for _, lead := range leads {
		args, err := leadArgs(lead)
		if err != nil {
			_ = transaction.Rollback()

			return persistence.NewLeadError("CreateBatch", lead.ID, err)
		}

		_, err = transaction.ExecContext(ctx, query, args...)
		if err != nil {
			_ = transaction.Rollback()

			return persistence.NewLeadError("CreateBatch", lead.ID, err)
		}
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit lead batch: %w", err)
	}

	return nil
}

func (r *LeadRepository) GetByID(ctx context.Context, id string) (*models.Lead, error) {
	query := `SELECT` + leadColumns + `FROM leads WHERE id = $1`

	lead, err := scanLead(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewLeadError("GetByID", id, persistence.ErrLeadNotFound)
		}

		return nil, persistence.NewLeadError("GetByID", id, err)
	}

	return lead, nil
}

// Save writes the lead only when the stored version still matches the version
// the caller loaded, then increments it. The version guard lives in the WHERE
// clause so the check and the write are a single atomic statement.
func (r *LeadRepository) Save(ctx context.Context, lead *models.Lead) error {
	args, err := leadArgs(lead)
	if err != nil {
		return persistence.NewLeadError("Save", lead.ID, err)
	}

	query := `
		UPDATE leads SET
			campaign_id = $2,
			name = $3,
			email = $4,
			status = $5,
			current_node = $6,
			next_node = $7,
			wait_until = $8,
			scheduled_timer_id = $9,
			completed_nodes = $10,
			sent_messages = $11,
			completed_waits = $12,
			execution_path = $13,
			error_message = $14,
			messages_sent = $15,
			last_message_at = $16,
			version = $17 + 1,
			created_at = $18,
			updated_at = $19,
			started_at = $20,
			completed_at = $21
		WHERE id = $1 AND version = $17
	`

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistence.NewLeadError("Save", lead.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewLeadError("Save", lead.ID, err)
	}

	if affected == 0 {
		// Either the lead is gone or a concurrent writer bumped the version.
		var exists bool

		err = r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM leads WHERE id = $1)", lead.ID).Scan(&exists)
		if err != nil {
			return persistence.NewLeadError("Save", lead.ID, err)
		}

		if !exists {
			return persistence.NewLeadError("Save", lead.ID, persistence.ErrLeadNotFound)
		}

		return persistence.NewLeadError("Save", lead.ID, persistence.ErrVersionConflict)
	}

	lead.Version++

	return nil
}

func (r *LeadRepository) ListByCampaign(ctx context.Context, campaignID string) ([]*models.Lead, error) {
	query := `SELECT` + leadColumns + `FROM leads WHERE campaign_id = $1 ORDER BY created_at`

	return r.list(ctx, query, campaignID)
}

func (r *LeadRepository) CountByStatus(ctx context.Context, campaignID string, statuses []models.LeadStatus) (int, int, error) {
	statusStrings := make([]string, 0, len(statuses))
	for _, status := range statuses {
		statusStrings = append(statusStrings, string(status))
	}

	statusJSON, err := json.Marshal(statusStrings)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to marshal statuses: %w", err)
	}

	query := `
		SELECT
			COUNT(*) FILTER (WHERE status IN (SELECT jsonb_array_elements_text($2::jsonb)))
		  , COUNT(*)
		FROM leads
		WHERE campaign_id = $1
	`

	var matched, total int

	err = r.db.QueryRowContext(ctx, query, campaignID, statusJSON).Scan(&matched, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count leads: %w", err)
	}

	return matched, total, nil
}

func (r *LeadRepository) ListPausedBefore(ctx context.Context, deadline time.Time) ([]*models.Lead, error) {
	query := `SELECT` + leadColumns + `
		FROM leads
		WHERE status = $1 AND wait_until IS NOT NULL AND wait_until < $2
		ORDER BY wait_until
	`

	return r.list(ctx, query, models.LeadStatusPaused, deadline)
}

func (r *LeadRepository) list(ctx context.Context, query string, args ...any) ([]*models.Lead, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}

	defer closeRows(ctx, rows, r.logger)

	leads := make([]*models.Lead, 0)

	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}

		leads = append(leads, lead)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating leads: %w", err)
	}

	return leads, nil
}

func leadArgs(lead *models.Lead) ([]any, error) {
	completedNodesJSON, err := json.Marshal(lead.CompletedNodes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completed nodes: %w", err)
	}

	sentMessagesJSON, err := json.Marshal(lead.SentMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sent messages: %w", err)
	}

	completedWaitsJSON, err := json.Marshal(lead.CompletedWaits)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completed waits: %w", err)
	}

	executionPathJSON, err := json.Marshal(lead.ExecutionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution path: %w", err)
	}

	return []any{
		lead.ID,
		lead.CampaignID,
		lead.Name,
		lead.Email,
		lead.Status,
		lead.CurrentNode,
		nullString(lead.NextNode),
		lead.WaitUntil,
		nullString(lead.ScheduledTimerID),
		completedNodesJSON,
		sentMessagesJSON,
		completedWaitsJSON,
		executionPathJSON,
		nullString(lead.ErrorMessage),
		lead.MessagesSent,
		lead.LastMessageAt,
		lead.Version,
		lead.CreatedAt,
		lead.UpdatedAt,
		lead.StartedAt,
		lead.CompletedAt,
	}, nil
}

func scanLead(row rowScanner) (*models.Lead, error) {
	var (
		lead               models.Lead
		nextNode           sql.NullString
		waitUntil          sql.NullTime
		scheduledTimerID   sql.NullString
		completedNodesJSON []byte
		sentMessagesJSON   []byte
		completedWaitsJSON []byte
		executionPathJSON  []byte
		errorMessage       sql.NullString
		lastMessageAt      sql.NullTime
		startedAt          sql.NullTime
		completedAt        sql.NullTime
	)

	err := row.Scan(
		&lead.ID,
		&lead.CampaignID,
		&lead.Name,
		&lead.Email,
		&lead.Status,
		&lead.CurrentNode,
		&nextNode,
		&waitUntil,
		&scheduledTimerID,
		&completedNodesJSON,
		&sentMessagesJSON,
		&completedWaitsJSON,
		&executionPathJSON,
		&errorMessage,
		&lead.MessagesSent,
		&lastMessageAt,
		&lead.Version,
		&lead.CreatedAt,
		&lead.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(completedNodesJSON, &lead.CompletedNodes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal completed nodes: %w", err)
	}

	err = json.Unmarshal(sentMessagesJSON, &lead.SentMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal sent messages: %w", err)
	}

	err = json.Unmarshal(completedWaitsJSON, &lead.CompletedWaits)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal completed waits: %w", err)
	}

	err = json.Unmarshal(executionPathJSON, &lead.ExecutionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution path: %w", err)
	}

	lead.NextNode = nextNode.String
	lead.ScheduledTimerID = scheduledTimerID.String
	lead.ErrorMessage = errorMessage.String
	lead.WaitUntil = nullableTime(waitUntil)
	lead.LastMessageAt = nullableTime(lastMessageAt)
	lead.StartedAt = nullableTime(startedAt)
	lead.CompletedAt = nullableTime(completedAt)

	return &lead, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	value := t.Time

	return &value
}
