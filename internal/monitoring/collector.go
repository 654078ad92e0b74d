// Package monitoring watches the job queue for failure spikes and backlog
// growth, and pushes alerts to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/store"
)

// FamilyStats holds one family's job counts.
type FamilyStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Backlog is the number of jobs not yet running.
func (f FamilyStats) Backlog() int {
	return f.Waiting + f.Delayed
}

// FailureRate is failed over finished. Zero when nothing has finished.
func (f FamilyStats) FailureRate() float64 {
	finished := f.Completed + f.Failed
	if finished == 0 {
		return 0
	}
	return float64(f.Failed) / float64(finished)
}

// MetricsSnapshot is a point-in-time view of queue health.
type MetricsSnapshot struct {
	Families    map[model.JobFamily]FamilyStats `json:"families"`
	Totals      FamilyStats                     `json:"totals"`
	CollectedAt time.Time                       `json:"collected_at"`
}

// Collector gathers job counts from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a Collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers per-family and total job counts.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		Families:    make(map[model.JobFamily]FamilyStats, len(model.JobFamilies)),
		CollectedAt: time.Now().UTC(),
	}

	for _, family := range model.JobFamilies {
		counts, err := c.store.CountJobsByState(ctx, family)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: count jobs for %s", family)
		}
		fs := FamilyStats{
			Waiting:   counts[model.JobStateWaiting],
			Active:    counts[model.JobStateActive],
			Delayed:   counts[model.JobStateDelayed],
			Completed: counts[model.JobStateCompleted],
			Failed:    counts[model.JobStateFailed],
		}
		snap.Families[family] = fs

		snap.Totals.Waiting += fs.Waiting
		snap.Totals.Active += fs.Active
		snap.Totals.Delayed += fs.Delayed
		snap.Totals.Completed += fs.Completed
		snap.Totals.Failed += fs.Failed
	}
	return snap, nil
}
