package main

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-enrich/internal/config"
	"github.com/sells-group/entity-enrich/internal/pipeline"
	"github.com/sells-group/entity-enrich/internal/queue"
	"github.com/sells-group/entity-enrich/internal/server"
	"github.com/sells-group/entity-enrich/internal/store"
)

// jobQueue is consumed by workers and reported on by the server. The
// database store and the NATS queue both satisfy it.
type jobQueue interface {
	pipeline.JobQueue
	server.JobStore
}

// openQueue returns the configured job queue and a func that releases it.
// The store backend shares the environment's database.
func openQueue(st store.Store) (jobQueue, func(), error) {
	if cfg.Queue.Backend != "nats" {
		return st, func() {}, nil
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("entity-enrich"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				zap.L().Warn("nats: disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			zap.L().Info("nats: reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "nats: connect %s", cfg.NATS.URL)
	}

	q, err := queue.NewNATS(nc, natsQueueConfig(cfg.NATS))
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	closeFn := func() {
		_ = q.Close()
		nc.Close()
	}
	return q, closeFn, nil
}

// natsQueueConfig maps config onto the queue's settings. Zero values take
// the queue defaults.
func natsQueueConfig(c config.NATSConfig) queue.Config {
	return queue.Config{
		Stream:     c.Stream,
		Subject:    c.Subject,
		Durable:    c.Durable,
		Bucket:     c.Bucket,
		Events:     c.Events,
		AckWait:    time.Duration(c.AckWaitSecs) * time.Second,
		MaxDeliver: c.MaxDeliver,
	}
}

// pollInterval is how long an idle worker waits between dequeues. A NATS
// fetch already blocks, so the pause is short.
func pollInterval() time.Duration {
	if cfg.Queue.Backend == "nats" {
		return 100 * time.Millisecond
	}
	return time.Duration(cfg.Queue.PollIntervalSecs) * time.Second
}
