package file

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/dripflow/dripflow/pkg/models"
	"github.com/dripflow/dripflow/pkg/persistence"
)

const timersCollection = "timers"

// TimerRepository stores durable timers as JSON documents.
type TimerRepository struct {
	p *Persistence
}

func (r *TimerRepository) Create(ctx context.Context, timer *models.Timer) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.writeDoc(timersCollection, timer.ID, timer)
}

func (r *TimerRepository) GetByID(ctx context.Context, id string) (*models.Timer, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var timer models.Timer
	if err := r.p.readDoc(timersCollection, id, &timer); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrTimerNotFound
		}

		return nil, err
	}

	return &timer, nil
}

func (r *TimerRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Timer, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	all, err := readAll[models.Timer](r.p, timersCollection)
	if err != nil {
		return nil, err
	}

	var due []*models.Timer

	for _, timer := range all {
		if timer.IsDue(now) {
			due = append(due, timer)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].FireAt.Before(due[j].FireAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (r *TimerRepository) MarkFired(ctx context.Context, id string) (bool, error) {
	return r.flip(id, func(t *models.Timer) bool {
		if t.Fired || t.Canceled {
			return false
		}

		t.Fired = true

		return true
	})
}

func (r *TimerRepository) MarkCanceled(ctx context.Context, id string) (bool, error) {
	return r.flip(id, func(t *models.Timer) bool {
		if t.Fired || t.Canceled {
			return false
		}

		t.Canceled = true

		return true
	})
}

func (r *TimerRepository) flip(id string, mutate func(*models.Timer) bool) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var timer models.Timer
	if err := r.p.readDoc(timersCollection, id, &timer); err != nil {
		if os.IsNotExist(err) {
			return false, persistence.ErrTimerNotFound
		}

		return false, err
	}

	if !mutate(&timer) {
		return false, nil
	}

	if err := r.p.writeDoc(timersCollection, id, &timer); err != nil {
		return false, err
	}

	return true, nil
}
