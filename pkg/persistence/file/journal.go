package file

import (
	"context"
	"os"

	"github.com/dripflow/dripflow/pkg/models"
)

const journalCollection = "journal"

// JournalRepository appends journal entries to one JSON document per lead.
type JournalRepository struct {
	p *Persistence
}

func (r *JournalRepository) Append(ctx context.Context, entry *models.JournalEntry) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	entries, err := r.readLocked(entry.LeadID)
	if err != nil {
		return err
	}

	entries = append(entries, entry)

	return r.p.writeDoc(journalCollection, entry.LeadID, entries)
}

func (r *JournalRepository) ListByLead(ctx context.Context, leadID string) ([]*models.JournalEntry, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.readLocked(leadID)
}

func (r *JournalRepository) readLocked(leadID string) ([]*models.JournalEntry, error) {
	var entries []*models.JournalEntry

	err := r.p.readDoc(journalCollection, leadID, &entries)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return entries, nil
}
