// Package queue distributes enrichment jobs over NATS JetStream. Jobs are
// published to a work-queue stream, their state is kept in a key-value
// bucket, and lifecycle events are broadcast on plain subjects for anyone
// watching a job.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/model"
	"github.com/sells-group/entity-enrich/internal/store"
)

// Config names the JetStream resources the queue uses.
type Config struct {
	Stream    string
	Subject   string
	Durable   string
	Bucket    string
	Events    string
	AckWait   time.Duration
	FetchWait time.Duration
	// MaxDeliver bounds redelivery of jobs whose worker died mid-run.
	MaxDeliver int
}

// DefaultConfig returns the resource names used when none are configured.
func DefaultConfig() Config {
	return Config{
		Stream:     "ENRICH_JOBS",
		Subject:    "enrich.jobs",
		Durable:    "enrich-workers",
		Bucket:     "enrich_jobs",
		Events:     "enrich.events",
		AckWait:    10 * time.Minute,
		FetchWait:  2 * time.Second,
		MaxDeliver: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Stream == "" {
		c.Stream = d.Stream
	}
	if c.Subject == "" {
		c.Subject = d.Subject
	}
	if c.Durable == "" {
		c.Durable = d.Durable
	}
	if c.Bucket == "" {
		c.Bucket = d.Bucket
	}
	if c.Events == "" {
		c.Events = d.Events
	}
	if c.AckWait <= 0 {
		c.AckWait = d.AckWait
	}
	if c.FetchWait <= 0 {
		c.FetchWait = d.FetchWait
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = d.MaxDeliver
	}
	return c
}

// Event is published on <events>.<job id>.<kind> as a job moves through
// its lifecycle.
type Event struct {
	JobID    string          `json:"job_id"`
	Kind     string          `json:"kind"`
	Status   model.JobStatus `json:"status"`
	Progress int             `json:"progress"`
	Error    string          `json:"error,omitempty"`
	At       time.Time       `json:"at"`
}

// Event kinds.
const (
	EventQueued    = "queued"
	EventStarted   = "started"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// NATSQueue is a JobQueue backed by a JetStream work-queue stream.
type NATSQueue struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	kv  nats.KeyValue
	sub *nats.Subscription
	cfg Config

	mu      sync.Mutex
	pending map[string]*nats.Msg
	now     func() time.Time
}

// NewNATS provisions the stream, bucket and pull consumer on nc.
func NewNATS(nc *nats.Conn, cfg Config) (*NATSQueue, error) {
	cfg = cfg.withDefaults()

	js, err := nc.JetStream()
	if err != nil {
		return nil, eris.Wrap(err, "nats: jetstream context")
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, eris.Wrapf(err, "nats: stream info %s", cfg.Stream)
		}
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{cfg.Subject},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		}); err != nil {
			return nil, eris.Wrapf(err, "nats: add stream %s", cfg.Stream)
		}
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: cfg.Bucket, History: 1})
	}
	if err != nil {
		return nil, eris.Wrapf(err, "nats: key-value bucket %s", cfg.Bucket)
	}

	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable,
		nats.BindStream(cfg.Stream),
		nats.AckWait(cfg.AckWait),
		nats.MaxDeliver(cfg.MaxDeliver),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "nats: pull subscribe %s", cfg.Subject)
	}

	return &NATSQueue{
		nc:      nc,
		js:      js,
		kv:      kv,
		sub:     sub,
		cfg:     cfg,
		pending: make(map[string]*nats.Msg),
		now:     time.Now,
	}, nil
}

// EventSubject returns the wildcard subject carrying every event for jobID.
func (q *NATSQueue) EventSubject(jobID string) string {
	return fmt.Sprintf("%s.%s.>", q.cfg.Events, jobID)
}

// Enqueue records the job as queued and publishes it to the stream. An
// empty ID is replaced with a UUID.
func (q *NATSQueue) Enqueue(ctx context.Context, job *model.Job) error {
	if job == nil || len(job.Rows) == 0 {
		return eris.New("nats: enqueue: job has no rows")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := q.now().UTC()
	job.Status = model.JobStatusQueued
	job.Progress = 0
	job.Result = nil
	job.Error = ""
	job.CreatedAt = now
	job.UpdatedAt = now

	data, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "nats: marshal job")
	}
	if err := q.putState(job); err != nil {
		return err
	}
	if _, err := q.js.Publish(q.cfg.Subject, data, nats.MsgId(job.ID), nats.Context(ctx)); err != nil {
		return eris.Wrapf(err, "nats: publish job %s", job.ID)
	}
	q.emit(job, EventQueued)
	return nil
}

// Dequeue waits up to FetchWait for a job. It returns nil when none
// arrives. The message stays unacknowledged until Ack.
func (q *NATSQueue) Dequeue(ctx context.Context) (*model.Job, error) {
	fctx, cancel := context.WithTimeout(ctx, q.cfg.FetchWait)
	defer cancel()

	msgs, err := q.sub.Fetch(1, nats.Context(fctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "nats: fetch")
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	msg := msgs[0]

	var job model.Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		if termErr := msg.Term(); termErr != nil {
			zap.L().Warn("nats: terminate undecodable job failed", zap.Error(termErr))
		}
		return nil, eris.Wrap(err, "nats: decode job")
	}

	job.Status = model.JobStatusRunning
	job.UpdatedAt = q.now().UTC()
	if err := q.putState(&job); err != nil {
		zap.L().Warn("nats: record running state failed", zap.String("job", job.ID), zap.Error(err))
	}

	q.mu.Lock()
	q.pending[job.ID] = msg
	q.mu.Unlock()

	q.emit(&job, EventStarted)
	return &job, nil
}

// Progress records progress, extends the ack deadline and broadcasts an
// event.
func (q *NATSQueue) Progress(_ context.Context, jobID string, progress int) error {
	job, err := q.GetJob(context.Background(), jobID)
	if err != nil {
		return err
	}
	job.Progress = clamp(progress)
	job.UpdatedAt = q.now().UTC()
	if err := q.putState(job); err != nil {
		return err
	}

	q.mu.Lock()
	msg := q.pending[jobID]
	q.mu.Unlock()
	if msg != nil {
		if err := msg.InProgress(); err != nil {
			zap.L().Debug("nats: extend ack deadline failed", zap.String("job", jobID), zap.Error(err))
		}
	}

	q.emit(job, EventProgress)
	return nil
}

// Ack stores the outcome and removes the job from the stream. A failed run
// is not redelivered.
func (q *NATSQueue) Ack(_ context.Context, jobID string, result *model.BatchResult, runErr error) error {
	job, err := q.GetJob(context.Background(), jobID)
	if err != nil {
		return err
	}
	job.Result = result
	job.UpdatedAt = q.now().UTC()
	kind := EventCompleted
	if runErr != nil {
		job.Status = model.JobStatusFailed
		job.Error = runErr.Error()
		kind = EventFailed
	} else {
		job.Status = model.JobStatusComplete
		job.Error = ""
		job.Progress = 100
	}
	if err := q.putState(job); err != nil {
		return err
	}

	q.mu.Lock()
	msg := q.pending[jobID]
	delete(q.pending, jobID)
	q.mu.Unlock()
	if msg != nil {
		if err := msg.Ack(); err != nil {
			return eris.Wrapf(err, "nats: ack job %s", jobID)
		}
	}

	q.emit(job, kind)
	return nil
}

// GetJob returns the last recorded state of a job.
func (q *NATSQueue) GetJob(_ context.Context, jobID string) (*model.Job, error) {
	entry, err := q.kv.Get(jobID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, eris.Wrapf(store.ErrNotFound, "nats: job %s", jobID)
		}
		return nil, eris.Wrapf(err, "nats: get job %s", jobID)
	}
	var job model.Job
	if err := json.Unmarshal(entry.Value(), &job); err != nil {
		return nil, eris.Wrapf(err, "nats: decode job %s", jobID)
	}
	return &job, nil
}

// ListJobs returns recorded jobs newest first.
func (q *NATSQueue) ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	keys, err := q.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "nats: list job keys")
	}

	var out []model.Job
	for _, k := range keys {
		job, err := q.GetJob(ctx, k)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close drops the pull subscription. The connection belongs to the caller.
func (q *NATSQueue) Close() error {
	if err := q.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return eris.Wrap(err, "nats: unsubscribe")
	}
	return nil
}

// putState stores the job without its input rows, which live in the stream
// message.
func (q *NATSQueue) putState(job *model.Job) error {
	state := *job
	state.Rows = nil
	state.Columns = nil
	data, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "nats: marshal job state")
	}
	if _, err := q.kv.Put(job.ID, data); err != nil {
		return eris.Wrapf(err, "nats: put job %s", job.ID)
	}
	return nil
}

func (q *NATSQueue) emit(job *model.Job, kind string) {
	data, err := json.Marshal(Event{
		JobID:    job.ID,
		Kind:     kind,
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.Error,
		At:       q.now().UTC(),
	})
	if err != nil {
		return
	}
	subject := fmt.Sprintf("%s.%s.%s", q.cfg.Events, job.ID, kind)
	if err := q.nc.Publish(subject, data); err != nil {
		zap.L().Debug("nats: publish event failed", zap.String("subject", subject), zap.Error(err))
	}
}

func clamp(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
