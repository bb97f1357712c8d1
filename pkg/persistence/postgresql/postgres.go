// Package postgresql provides PostgreSQL persistence implementation for
// campaigns, leads, waiting events, timers and the lead journal.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/dripflow/dripflow/pkg/persistence"
	"github.com/dripflow/dripflow/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	campaignRepo *CampaignRepository
	leadRepo     *LeadRepository
	eventRepo    *WaitingEventRepository
	timerRepo    *TimerRepository
	journalRepo  *JournalRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		campaignRepo: NewCampaignRepository(database, logger),
		leadRepo:     NewLeadRepository(database, logger),
		eventRepo:    NewWaitingEventRepository(database, logger),
		timerRepo:    NewTimerRepository(database, logger),
		journalRepo:  NewJournalRepository(database, logger),
	}, nil
}

// Campaigns returns the campaign repository.
func (p *Persistence) Campaigns() persistence.CampaignRepository {
	return p.campaignRepo
}

// Leads returns the lead repository.
func (p *Persistence) Leads() persistence.LeadRepository {
	return p.leadRepo
}

// WaitingEvents returns the waiting event repository.
func (p *Persistence) WaitingEvents() persistence.WaitingEventRepository {
	return p.eventRepo
}

// Timers returns the timer repository.
func (p *Persistence) Timers() persistence.TimerRepository {
	return p.timerRepo
}

// Journal returns the journal repository.
func (p *Persistence) Journal() persistence.JournalRepository {
	return p.journalRepo
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
