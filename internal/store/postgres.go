package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-enrich/internal/db"
	"github.com/sells-group/entity-enrich/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller owns its lifecycle.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS enrichment_cache (
	cache_key  TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id           TEXT PRIMARY KEY,
	payload      JSONB NOT NULL,
	budget_cents INTEGER NOT NULL DEFAULT 0,
	concurrency  INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'queued',
	progress     INTEGER NOT NULL DEFAULT 0,
	result       JSONB,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_enrichment_cache_expires_at ON enrichment_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_enrichment_jobs_status ON enrichment_jobs(status, created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (model.EnrichmentData, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM enrichment_cache WHERE cache_key = $1 AND expires_at > $2`,
		key, s.now().UTC(),
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get cache %s", key)
	}
	data, err := decodeData(raw)
	return data, eris.Wrap(err, "postgres: get cache")
}

func (s *PostgresStore) Set(ctx context.Context, key string, data model.EnrichmentData, ttl time.Duration) error {
	b, err := encodeData(data)
	if err != nil {
		return eris.Wrap(err, "postgres: set cache")
	}
	now := s.now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrichment_cache (cache_key, data, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cache_key) DO UPDATE SET data = $2, cached_at = $3, expires_at = $4`,
		key, b, now, now.Add(ttl),
	)
	return eris.Wrapf(err, "postgres: set cache %s", key)
}

// SetMany bulk-writes cache entries through a COPY into a temp table. An
// entry written later by another worker is left in place.
func (s *PostgresStore) SetMany(ctx context.Context, entries []CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := s.now().UTC()
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		b, err := encodeData(e.Data)
		if err != nil {
			return eris.Wrap(err, "postgres: set many")
		}
		rows = append(rows, []any{e.Key, b, now, now.Add(e.TTL)})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "enrichment_cache",
		Columns:      []string{"cache_key", "data", "cached_at", "expires_at"},
		ConflictKeys: []string{"cache_key"},
		GuardColumn:  "cached_at",
	}, rows)
	return eris.Wrap(err, "postgres: set many")
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM enrichment_cache WHERE expires_at <= $1`, s.now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Enqueue(ctx context.Context, job *model.Job) error {
	if err := prepareJob(job, uuid.New().String(), s.now().UTC()); err != nil {
		return eris.Wrap(err, "postgres: enqueue")
	}
	payload, err := encodePayload(job)
	if err != nil {
		return eris.Wrap(err, "postgres: enqueue")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrichment_jobs (id, payload, budget_cents, concurrency, status, progress, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $6)`,
		job.ID, payload, job.BudgetCents, job.Concurrency, string(job.Status), job.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

// Dequeue claims the oldest queued job. SKIP LOCKED lets concurrent
// workers pull distinct jobs without blocking each other.
func (s *PostgresStore) Dequeue(ctx context.Context) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE enrichment_jobs SET status = $1, updated_at = $2
		 WHERE id = (
			SELECT id FROM enrichment_jobs WHERE status = $3
			ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+pgJobColumns,
		string(model.JobStatusRunning), s.now().UTC(), string(model.JobStatusQueued),
	)
	job, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (s *PostgresStore) Progress(ctx context.Context, jobID string, progress int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_jobs SET progress = $1, updated_at = $2 WHERE id = $3`,
		clampProgress(progress), s.now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update progress %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) Ack(ctx context.Context, jobID string, result *model.BatchResult, runErr error) error {
	status, errText := ackStatus(runErr)
	var resultJSON []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal job result")
		}
		resultJSON = b
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_jobs
		 SET status = $1, result = $2, error = $3,
		     progress = CASE WHEN $4 THEN 100 ELSE progress END, updated_at = $5
		 WHERE id = $6`,
		string(status), resultJSON, errText, runErr == nil, s.now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: ack job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgJobColumns+` FROM enrichment_jobs WHERE id = $1`, jobID,
	)
	job, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: job %s", jobID)
	}
	return job, err
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + pgJobColumns + ` FROM enrichment_jobs`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` WHERE status = $1`
	}
	args = append(args, listLimit(filter))
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

const pgJobColumns = `id, payload, budget_cents, concurrency, status, progress, result, error, created_at, updated_at`

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var (
		j          model.Job
		payload    []byte
		status     string
		resultJSON []byte
	)
	err := row.Scan(&j.ID, &payload, &j.BudgetCents, &j.Concurrency, &status, &j.Progress,
		&resultJSON, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}
	j.Status = model.JobStatus(status)
	if err := decodePayload(payload, &j); err != nil {
		return nil, eris.Wrap(err, "postgres")
	}
	if len(resultJSON) > 0 {
		j.Result = &model.BatchResult{}
		if err := json.Unmarshal(resultJSON, j.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal job result")
		}
	}
	return &j, nil
}
