package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/store"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

func newTestQueue(t *testing.T) (*NATSQueue, *nats.Conn) {
	t.Helper()
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	q, err := NewNATS(nc, Config{FetchWait: 100 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, nc
}

func sampleJob() *model.Job {
	return &model.Job{
		Rows: []model.RowData{
			{ID: "r1", Data: map[string]any{"website": "acme.com"}},
			{ID: "r2", Data: map[string]any{"website": "globex.com"}},
		},
		Columns:     []model.ColumnData{{ID: "c1", Key: "website"}, {ID: "c2", Key: "company_name"}},
		BudgetCents: 50,
		Concurrency: 2,
	}
}

func TestNATSQueue_EnqueueDequeueAck(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := sampleJob()
	require.NoError(t, q.Enqueue(ctx, job))
	require.NotEmpty(t, job.ID)

	queued, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, queued.Status)
	assert.Empty(t, queued.Rows, "rows live in the stream, not the bucket")

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Len(t, got.Rows, 2)
	assert.Equal(t, 50, got.BudgetCents)
	assert.Equal(t, model.JobStatusRunning, got.Status)

	require.NoError(t, q.Progress(ctx, job.ID, 40))
	running, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, running.Progress)
	assert.Equal(t, model.JobStatusRunning, running.Status)

	result := &model.BatchResult{DoneEntities: 2, PerEntity: []model.EntityResult{}}
	require.NoError(t, q.Ack(ctx, job.ID, result, nil))

	done, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusComplete, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.Result)
	assert.Equal(t, 2, done.Result.DoneEntities)

	next, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "acked job is not redelivered")
}

func TestNATSQueue_DequeueEmpty(t *testing.T) {
	q, _ := newTestQueue(t)
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestNATSQueue_DequeueCancelled(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job, err := q.Dequeue(ctx)
	assert.Nil(t, job)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNATSQueue_AckFailure(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := sampleJob()
	require.NoError(t, q.Enqueue(ctx, job))
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Ack(ctx, job.ID, &model.BatchResult{Cancelled: true}, errors.New("worker: job cancelled before completion")))

	failed, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "cancelled")
	assert.NotEqual(t, 100, failed.Progress)

	next, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestNATSQueue_RejectsEmptyJob(t *testing.T) {
	q, _ := newTestQueue(t)
	assert.Error(t, q.Enqueue(context.Background(), &model.Job{}))
	assert.Error(t, q.Enqueue(context.Background(), nil))
}

func TestNATSQueue_GetJobNotFound(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNATSQueue_PublishesEvents(t *testing.T) {
	q, nc := newTestQueue(t)
	ctx := context.Background()

	job := sampleJob()
	job.ID = "job-events"
	sub, err := nc.SubscribeSync(q.EventSubject(job.ID))
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, q.Enqueue(ctx, job))
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Progress(ctx, job.ID, 50))
	require.NoError(t, q.Ack(ctx, job.ID, &model.BatchResult{}, nil))

	var kinds []string
	for i := 0; i < 4; i++ {
		msg, err := sub.NextMsg(2 * time.Second)
		require.NoError(t, err)
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, job.ID, ev.JobID)
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []string{EventQueued, EventStarted, EventProgress, EventCompleted}, kinds)
}

func TestNATSQueue_ListJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	empty, err := q.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, empty)

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"job-a", "job-b", "job-c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		q.now = func() time.Time { return at }
		job := sampleJob()
		job.ID = id
		require.NoError(t, q.Enqueue(ctx, job))
	}
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	all, err := q.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "job-c", all[0].ID)
	assert.Equal(t, "job-a", all[2].ID)

	queued, err := q.ListJobs(ctx, store.JobFilter{Status: model.JobStatusQueued, Limit: 1})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "job-c", queued[0].ID)
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{Stream: "CUSTOM"}.withDefaults()
	assert.Equal(t, "CUSTOM", c.Stream)
	assert.Equal(t, DefaultConfig().Subject, c.Subject)
	assert.Equal(t, DefaultConfig().AckWait, c.AckWait)
	assert.Equal(t, 3, c.MaxDeliver)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, clamp(-5))
	assert.Equal(t, 55, clamp(55))
	assert.Equal(t, 100, clamp(140))
}
