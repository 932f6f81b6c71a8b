// Package store persists the enrichment cache and the job queue in SQLite,
// Postgres or memory.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-enrich/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the enrichment engine.
type Store interface {
	// Cache
	Get(ctx context.Context, key string) (model.EnrichmentData, error)
	Set(ctx context.Context, key string, data model.EnrichmentData, ttl time.Duration) error
	DeleteExpired(ctx context.Context) (int, error)

	// Jobs
	Enqueue(ctx context.Context, job *model.Job) error
	Dequeue(ctx context.Context) (*model.Job, error)
	Progress(ctx context.Context, jobID string, progress int) error
	Ack(ctx context.Context, jobID string, result *model.BatchResult, runErr error) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// CacheEntry is one cache row for bulk writes.
type CacheEntry struct {
	Key  string
	Data model.EnrichmentData
	TTL  time.Duration
}

// jobPayload is the serialized input of a job.
type jobPayload struct {
	Rows    []model.RowData    `json:"rows"`
	Columns []model.ColumnData `json:"columns"`
}

func encodePayload(job *model.Job) ([]byte, error) {
	b, err := json.Marshal(jobPayload{Rows: job.Rows, Columns: job.Columns})
	return b, eris.Wrap(err, "marshal job payload")
}

func decodePayload(b []byte, job *model.Job) error {
	var p jobPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return eris.Wrapf(err, "unmarshal payload for job %s", job.ID)
	}
	job.Rows = p.Rows
	job.Columns = p.Columns
	return nil
}

func encodeData(data model.EnrichmentData) ([]byte, error) {
	b, err := json.Marshal(data)
	return b, eris.Wrap(err, "marshal cache data")
}

func decodeData(b []byte) (model.EnrichmentData, error) {
	var data model.EnrichmentData
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, eris.Wrap(err, "unmarshal cache data")
	}
	return data, nil
}

// ackStatus maps a finished run to its terminal job status and error text.
func ackStatus(runErr error) (model.JobStatus, string) {
	if runErr != nil {
		return model.JobStatusFailed, runErr.Error()
	}
	return model.JobStatusComplete, ""
}

// prepareJob fills ID, status and timestamps on a job about to be queued.
func prepareJob(job *model.Job, id string, now time.Time) error {
	if job == nil {
		return eris.New("job is nil")
	}
	if len(job.Rows) == 0 {
		return eris.New("job has no rows")
	}
	if job.ID == "" {
		job.ID = id
	}
	job.Status = model.JobStatusQueued
	job.Progress = 0
	job.Result = nil
	job.Error = ""
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

func listLimit(filter JobFilter) int {
	if filter.Limit <= 0 {
		return 100
	}
	return filter.Limit
}

// ErrNotFound is wrapped by lookups of missing jobs.
var ErrNotFound = eris.New("not found")
