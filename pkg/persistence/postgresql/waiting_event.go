package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
)

// WaitingEventRepository handles waiting-event database operations.
type WaitingEventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWaitingEventRepository creates a new waiting event repository.
func NewWaitingEventRepository(db *sql.DB, logger *slog.Logger) *WaitingEventRepository {
	return &WaitingEventRepository{db: db, logger: logger}
}

const waitingEventColumns = `
	id
  , lead_id
  , campaign_id
  , condition_node_id
  , kind
  , target_url
  , message_node_id
  , processed
  , created_at
  , processed_at
`

func (r *WaitingEventRepository) Create(ctx context.Context, event *models.WaitingEvent) error {
	query := `
		INSERT INTO waiting_events (
			id, lead_id, campaign_id, condition_node_id, kind, target_url,
			message_node_id, processed, created_at, processed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.LeadID,
		event.CampaignID,
		event.ConditionNodeID,
		event.Kind,
		nullString(event.TargetURL),
		nullString(event.MessageNodeID),
		event.Processed,
		event.CreatedAt,
		event.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create waiting event: %w", err)
	}

	return nil
}

func (r *WaitingEventRepository) ListUnprocessed(ctx context.Context, leadID, campaignID string, kind models.EventKind) ([]*models.WaitingEvent, error) {
	query := `SELECT` + waitingEventColumns + `
		FROM waiting_events
		WHERE lead_id = $1 AND campaign_id = $2 AND kind = $3 AND NOT processed
		ORDER BY created_at
	`

	return r.list(ctx, query, leadID, campaignID, kind)
}

func (r *WaitingEventRepository) ListUnprocessedForNode(ctx context.Context, leadID, nodeID string) ([]*models.WaitingEvent, error) {
	query := `SELECT` + waitingEventColumns + `
		FROM waiting_events
		WHERE lead_id = $1 AND condition_node_id = $2 AND NOT processed
		ORDER BY created_at
	`

	return r.list(ctx, query, leadID, nodeID)
}

// MarkProcessed flips processed in a single guarded UPDATE so exactly one
// caller ever observes true per event.
func (r *WaitingEventRepository) MarkProcessed(ctx context.Context, eventID string, at time.Time) (bool, error) {
	query := `
		UPDATE waiting_events
		SET processed = TRUE, processed_at = $2
		WHERE id = $1 AND NOT processed
	`

	result, err := r.db.ExecContext(ctx, query, eventID, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark waiting event processed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark waiting event processed: %w", err)
	}

	return affected > 0, nil
}

func (r *WaitingEventRepository) HasProcessed(ctx context.Context, leadID, campaignID string, kind models.EventKind, targetURL string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM waiting_events
			WHERE lead_id = $1 AND campaign_id = $2 AND kind = $3 AND processed
			  AND ($4 = '' OR target_url = $4)
		)
	`

	var exists bool

	err := r.db.QueryRowContext(ctx, query, leadID, campaignID, kind, targetURL).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query processed waiting events: %w", err)
	}

	return exists, nil
}

func (r *WaitingEventRepository) list(ctx context.Context, query string, args ...any) ([]*models.WaitingEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting events: %w", err)
	}

	defer closeRows(ctx, rows, r.logger)

	events := make([]*models.WaitingEvent, 0)

	for rows.Next() {
		event, err := scanWaitingEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan waiting event: %w", err)
		}

		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating waiting events: %w", err)
	}

	return events, nil
}

func scanWaitingEvent(row rowScanner) (*models.WaitingEvent, error) {
	var (
		event         models.WaitingEvent
		targetURL     sql.NullString
		messageNodeID sql.NullString
		processedAt   sql.NullTime
	)

	err := row.Scan(
		&event.ID,
		&event.LeadID,
		&event.CampaignID,
		&event.ConditionNodeID,
		&event.Kind,
		&targetURL,
		&messageNodeID,
		&event.Processed,
		&event.CreatedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	event.TargetURL = targetURL.String
	event.MessageNodeID = messageNodeID.String
	event.ProcessedAt = nullableTime(processedAt)

	return &event, nil
}
