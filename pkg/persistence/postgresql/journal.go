package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dripflow/dripflow/pkg/models"
)

// JournalRepository handles lead journal database operations.
type JournalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJournalRepository creates a new journal repository.
func NewJournalRepository(db *sql.DB, logger *slog.Logger) *JournalRepository {
	return &JournalRepository{db: db, logger: logger}
}

func (r *JournalRepository) Append(ctx context.Context, entry *models.JournalEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal journal details: %w", err)
	}

	query := `
		INSERT INTO journal_entries (
			lead_id, campaign_id, timestamp, message, node_id, node_kind, details
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.LeadID,
		entry.CampaignID,
		entry.Timestamp,
		entry.Message,
		nullString(entry.NodeID),
		nullString(string(entry.NodeKind)),
		detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}

	return nil
}

func (r *JournalRepository) ListByLead(ctx context.Context, leadID string) ([]*models.JournalEntry, error) {
	query := `
		SELECT
			lead_id
		  , campaign_id
		  , timestamp
		  , message
		  , node_id
		  , node_kind
		  , details
		FROM journal_entries
		WHERE lead_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}

	defer closeRows(ctx, rows, r.logger)

	entries := make([]*models.JournalEntry, 0)

	for rows.Next() {
		var (
			entry       models.JournalEntry
			nodeID      sql.NullString
			nodeKind    sql.NullString
			detailsJSON []byte
		)

		err := rows.Scan(
			&entry.LeadID,
			&entry.CampaignID,
			&entry.Timestamp,
			&entry.Message,
			&nodeID,
			&nodeKind,
			&detailsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}

		entry.NodeID = nodeID.String
		entry.NodeKind = models.NodeKind(nodeKind.String)

		if len(detailsJSON) > 0 {
			err = json.Unmarshal(detailsJSON, &entry.Details)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal journal details: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating journal entries: %w", err)
	}

	return entries, nil
}
