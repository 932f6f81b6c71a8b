package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/store"
	"github.com/sells-group/entity-enrich/internal/waterfall/provider"
)

func enrichJob(domains ...string) *model.Job {
	job := &model.Job{
		Columns: []model.ColumnData{
			{ID: "c1", Key: "website"},
			{ID: "c2", Key: "company_name"},
		},
		BudgetCents: 100,
		Concurrency: 2,
	}
	for i, d := range domains {
		job.Rows = append(job.Rows, model.RowData{
			ID:   string(rune('a' + i)),
			Data: map[string]any{"website": "https://" + d + "/"},
		})
	}
	return job
}

type brokenQueue struct {
	store.MemoryStore
	err error
}

func (q *brokenQueue) Dequeue(context.Context) (*model.Job, error) { return nil, q.err }

func TestWorker_RunOnceCompletesJob(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	job := enrichJob("acme.com", "globex.com", "acme.com")
	require.NoError(t, mem.Enqueue(ctx, job))

	p := &fakeProvider{name: "web", stage: model.StageFree, cost: 1}
	w := NewWorker(mem, newTestRunner(t, mem, []provider.Provider{p}), time.Millisecond)

	worked, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	got, err := mem.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusComplete, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.Result)
	assert.Equal(t, 2, got.Result.DoneEntities)
	assert.Equal(t, 1, got.Result.DuplicatesAvoided)
	assert.Equal(t, int64(2), p.calls.Load())
}

func TestWorker_RunOnceEmptyQueue(t *testing.T) {
	w := NewWorker(store.NewMemory(), newTestRunner(t, nil, nil), 0)
	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
	assert.Equal(t, 2*time.Second, w.pollInterval)
}

func TestWorker_RunOnceDequeueError(t *testing.T) {
	q := &brokenQueue{err: errors.New("connection refused")}
	w := NewWorker(q, newTestRunner(t, nil, nil), time.Millisecond)
	worked, err := w.RunOnce(context.Background())
	assert.False(t, worked)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWorker_CancelledJobIsFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := store.NewMemory()
	job := enrichJob("a.com", "b.com", "c.com", "d.com")
	job.Concurrency = 1
	require.NoError(t, mem.Enqueue(ctx, job))

	p := &fakeProvider{name: "web", stage: model.StageFree, onLookup: cancel}
	w := NewWorker(mem, newTestRunner(t, mem, []provider.Provider{p}), time.Millisecond)

	worked, err := w.RunOnce(ctx)
	assert.True(t, worked)
	require.Error(t, err)

	got, err := mem.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "cancelled")
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Cancelled)
}

func TestWorker_RunDrainsQueueUntilCancelled(t *testing.T) {
	mem := store.NewMemory()
	first := enrichJob("acme.com")
	second := enrichJob("globex.com")
	require.NoError(t, mem.Enqueue(context.Background(), first))
	require.NoError(t, mem.Enqueue(context.Background(), second))

	p := &fakeProvider{name: "web", stage: model.StageFree}
	w := NewWorker(mem, newTestRunner(t, mem, []provider.Provider{p}), 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	for _, id := range []string{first.ID, second.ID} {
		got, err := mem.GetJob(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusComplete, got.Status)
	}
}
