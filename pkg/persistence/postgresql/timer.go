package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

// TimerRepository handles durable timer database operations.
type TimerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTimerRepository creates a new timer repository.
func NewTimerRepository(db *sql.DB, logger *slog.Logger) *TimerRepository {
	return &TimerRepository{db: db, logger: logger}
}

const timerColumns = `
	id
  , lead_id
  , campaign_id
  , node_id
  , kind
  , fire_at
  , canceled
  , fired
  , created_at
`

func (r *TimerRepository) Create(ctx context.Context, timer *models.Timer) error {
	query := `
		INSERT INTO timers (
			id, lead_id, campaign_id, node_id, kind, fire_at, canceled, fired, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		timer.ID,
		timer.LeadID,
		timer.CampaignID,
		timer.NodeID,
		timer.Kind,
		timer.FireAt,
		timer.Canceled,
		timer.Fired,
		timer.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create timer: %w", err)
	}

	return nil
}

func (r *TimerRepository) GetByID(ctx context.Context, id string) (*models.Timer, error) {
	query := `SELECT` + timerColumns + `FROM timers WHERE id = $1`

	timer, err := scanTimer(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTimerNotFound
		}

		return nil, fmt.Errorf("failed to scan timer: %w", err)
	}

	return timer, nil
}

func (r *TimerRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Timer, error) {
	query := `SELECT` + timerColumns + `
		FROM timers
		WHERE fire_at <= $1 AND NOT fired AND NOT canceled
		ORDER BY fire_at
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due timers: %w", err)
	}

	defer closeRows(ctx, rows, r.logger)

	timers := make([]*models.Timer, 0)

	for rows.Next() {
		timer, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}

		timers = append(timers, timer)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating timers: %w", err)
	}

	return timers, nil
}

// MarkFired claims the timer. The NOT fired AND NOT canceled guard makes the
// claim atomic: concurrent pollers race on the UPDATE and only one wins.
func (r *TimerRepository) MarkFired(ctx context.Context, id string) (bool, error) {
	return r.flip(ctx, "UPDATE timers SET fired = TRUE WHERE id = $1 AND NOT fired AND NOT canceled", id)
}

// MarkCanceled revokes the timer unless it already fired.
func (r *TimerRepository) MarkCanceled(ctx context.Context, id string) (bool, error) {
	return r.flip(ctx, "UPDATE timers SET canceled = TRUE WHERE id = $1 AND NOT fired AND NOT canceled", id)
}

func (r *TimerRepository) flip(ctx context.Context, query, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to update timer: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update timer: %w", err)
	}

	return affected > 0, nil
}

func scanTimer(row rowScanner) (*models.Timer, error) {
	var timer models.Timer

	err := row.Scan(
		&timer.ID,
		&timer.LeadID,
		&timer.CampaignID,
		&timer.NodeID,
		&timer.Kind,
		&timer.FireAt,
		&timer.Canceled,
		&timer.Fired,
		&timer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &timer, nil
}
