// Package monitoring watches enrichment jobs and raises webhook alerts when
// failure rates, spend or stalled jobs cross configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/store"
)

// MetricsSnapshot holds a point-in-time view of job health.
type MetricsSnapshot struct {
	// Jobs created within the lookback window.
	JobsTotal    int     `json:"jobs_total"`
	JobsComplete int     `json:"jobs_complete"`
	JobsFailed   int     `json:"jobs_failed"`
	JobsQueued   int     `json:"jobs_queued"`
	JobsRunning  int     `json:"jobs_running"`
	JobFailRate  float64 `json:"job_fail_rate"`
	// JobsStalled counts running jobs with no progress for the stall window.
	JobsStalled int `json:"jobs_stalled"`

	// Entities of finished jobs.
	EntitiesDone      int     `json:"entities_done"`
	EntitiesFailed    int     `json:"entities_failed"`
	EntitiesSkipped   int     `json:"entities_skipped"`
	EntityFailRate    float64 `json:"entity_fail_rate"`
	DuplicatesAvoided int     `json:"duplicates_avoided"`
	CostCents         int     `json:"cost_cents"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobLister is the part of a job queue the collector reads.
type JobLister interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
}

// Collector gathers job metrics from a queue.
type Collector struct {
	jobs  JobLister
	stall time.Duration
	now   func() time.Time
}

// NewCollector creates a collector. Running jobs not updated within stall
// count as stalled; zero disables the check.
func NewCollector(jobs JobLister, stall time.Duration) *Collector {
	return &Collector{jobs: jobs, stall: stall, now: time.Now}
}

// collectLimit bounds how many jobs one snapshot reads.
const collectLimit = 10000

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.jobs.ListJobs(ctx, store.JobFilter{Limit: collectLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	for _, j := range jobs {
		if j.CreatedAt.Before(cutoff) {
			continue
		}
		snap.JobsTotal++
		switch j.Status {
		case model.JobStatusComplete:
			snap.JobsComplete++
		case model.JobStatusFailed:
			snap.JobsFailed++
		case model.JobStatusQueued:
			snap.JobsQueued++
		case model.JobStatusRunning:
			snap.JobsRunning++
			if c.stall > 0 && now.Sub(j.UpdatedAt) > c.stall {
				snap.JobsStalled++
			}
		}
		if r := j.Result; r != nil {
			snap.EntitiesDone += r.DoneEntities
			snap.EntitiesFailed += r.FailedEntities
			snap.EntitiesSkipped += r.SkippedEntities
			snap.DuplicatesAvoided += r.DuplicatesAvoided
			snap.CostCents += r.TotalCostCents
		}
	}

	if finished := snap.JobsComplete + snap.JobsFailed; finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}
	if attempted := snap.EntitiesDone + snap.EntitiesFailed; attempted > 0 {
		snap.EntityFailRate = float64(snap.EntitiesFailed) / float64(attempted)
	}

	return snap, nil
}
