// Package file provides file-based persistence for local development and
// tests. Entities are stored as one JSON document per file; a process-wide
// mutex provides the atomicity the contract requires, which is sufficient
// for the single-process deployments this backend targets.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dripflow/dripflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local filesystem.
type Persistence struct {
	root string
	mu   sync.Mutex

	campaigns *CampaignRepository
	leads     *LeadRepository
	events    *WaitingEventRepository
	timers    *TimerRepository
	journal   *JournalRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// A "file://" prefix is accepted and stripped.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.campaigns = &CampaignRepository{p: p}
	p.leads = &LeadRepository{p: p}
	p.events = &WaitingEventRepository{p: p}
	p.timers = &TimerRepository{p: p}
	p.journal = &JournalRepository{p: p}

	return p
}

func (p *Persistence) Campaigns() persistence.CampaignRepository { return p.campaigns }

func (p *Persistence) Leads() persistence.LeadRepository { return p.leads }

func (p *Persistence) WaitingEvents() persistence.WaitingEventRepository { return p.events }

func (p *Persistence) Timers() persistence.TimerRepository { return p.timers }

func (p *Persistence) Journal() persistence.JournalRepository { return p.journal }

// HealthCheck verifies the root directory exists, creating it if needed.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return os.MkdirAll(p.root, 0o755)
}

// Close performs any necessary cleanup. Nothing to clean up for files.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) dir(collection string) string {
	return filepath.Join(p.root, collection)
}

func (p *Persistence) path(collection, id string) string {
	return filepath.Join(p.root, collection, id+".json")
}

// writeDoc marshals and writes one document. Caller holds p.mu.
func (p *Persistence) writeDoc(collection, id string, doc any) error {
	if err := os.MkdirAll(p.dir(collection), 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", collection, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", collection, id, err)
	}

	if err := os.WriteFile(p.path(collection, id), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", collection, id, err)
	}

	return nil
}

// readDoc reads and unmarshals one document. Caller holds p.mu. Returns
// os.ErrNotExist when the document is missing.
func (p *Persistence) readDoc(collection, id string, doc any) error {
	data, err := os.ReadFile(p.path(collection, id))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", collection, id, err)
	}

	return nil
}

// readAll reads every document in a collection. Caller holds p.mu.
func readAll[T any](p *Persistence, collection string) ([]*T, error) {
	entries, err := os.ReadDir(p.dir(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	docs := make([]*T, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}

		doc := new(T)
		if err := p.readDoc(collection, strings.TrimSuffix(name, ".json"), doc); err != nil {
			return nil, err
		}

		docs = append(docs, doc)
	}

	return docs, nil
}
