package repo

import (
	"context"
	"sync"

	"github.com/arcims/arcims-web/domains/activation/be/service"
)

// MemoryJournal keeps outcomes in process. Used when no database is configured.
type MemoryJournal struct {
	mu     sync.RWMutex
	byUser map[string][]service.Outcome
}

// NewMemoryJournal constructs an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{byUser: make(map[string][]service.Outcome)}
}

// Record appends a terminal outcome. Recording the same outcome id twice is a no-op.
func (j *MemoryJournal) Record(ctx context.Context, o service.Outcome) error {
	if err := validateOutcome(o); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, existing := range j.byUser[o.UserID] {
		if existing.ID == o.ID {
			return nil
		}
	}
	j.byUser[o.UserID] = append(j.byUser[o.UserID], o)
	return nil
}

// Latest returns the outcome with the newest finish time.
func (j *MemoryJournal) Latest(ctx context.Context, userID string) (service.Outcome, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var (
		latest service.Outcome
		found  bool
	)
	for _, o := range j.byUser[userID] {
		if !found || !o.FinishedAt.Before(latest.FinishedAt) {
			latest, found = o, true
		}
	}
	if !found {
		return service.Outcome{}, service.ErrNoOutcome
	}
	return latest, nil
}

var _ service.Journal = (*MemoryJournal)(nil)
