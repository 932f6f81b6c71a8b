package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-enrich/internal/model"
)

type memoryEntry struct {
	data      model.EnrichmentData
	expiresAt time.Time
}

// MemoryStore implements Store in process memory. It backs one-shot CLI
// runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	cache map[string]memoryEntry
	jobs  map[string]*model.Job
	order []string
	now   func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		cache: make(map[string]memoryEntry),
		jobs:  make(map[string]*model.Job),
		now:   time.Now,
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) Get(_ context.Context, key string) (model.EnrichmentData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return nil, nil
	}
	return e.data.Clone(), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, data model.EnrichmentData, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = memoryEntry{data: data.Clone(), expiresAt: s.now().Add(ttl)}
	return nil
}

// SetMany writes several cache entries at once.
func (s *MemoryStore) SetMany(ctx context.Context, entries []CacheEntry) error {
	for _, e := range entries {
		if err := s.Set(ctx, e.Key, e.Data, e.TTL); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, e := range s.cache {
		if !now.Before(e.expiresAt) {
			delete(s.cache, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Enqueue(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := prepareJob(job, uuid.New().String(), s.now().UTC()); err != nil {
		return eris.Wrap(err, "memory: enqueue")
	}
	cp := *job
	s.jobs[job.ID] = &cp
	s.order = append(s.order, job.ID)
	return nil
}

func (s *MemoryStore) Dequeue(context.Context) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status != model.JobStatusQueued {
			continue
		}
		j.Status = model.JobStatusRunning
		j.UpdatedAt = s.now().UTC()
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) Progress(_ context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return eris.Wrapf(ErrNotFound, "memory: job %s", jobID)
	}
	j.Progress = clampProgress(progress)
	j.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Ack(_ context.Context, jobID string, result *model.BatchResult, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return eris.Wrapf(ErrNotFound, "memory: job %s", jobID)
	}
	j.Status, j.Error = ackStatus(runErr)
	j.Result = result
	if runErr == nil {
		j.Progress = 100
	}
	j.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: job %s", jobID)
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Job
	// Newest first, matching the SQL stores.
	for i := len(s.order) - 1; i >= 0; i-- {
		j := s.jobs[s.order[i]]
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, *j)
	}
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if limit := listLimit(filter); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
