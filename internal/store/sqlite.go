package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/entity-enrich/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as Unix nanoseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrichment_cache (
	cache_key  TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	cached_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id           TEXT PRIMARY KEY,
	payload      TEXT NOT NULL,
	budget_cents INTEGER NOT NULL DEFAULT 0,
	concurrency  INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'queued',
	progress     INTEGER NOT NULL DEFAULT 0,
	result       TEXT,
	error        TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enrichment_cache_expires_at ON enrichment_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_enrichment_jobs_status ON enrichment_jobs(status, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (model.EnrichmentData, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM enrichment_cache WHERE cache_key = ? AND expires_at > ?`,
		key, s.now().UnixNano(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cache %s", key)
	}
	data, err := decodeData([]byte(raw))
	return data, eris.Wrap(err, "sqlite: get cache")
}

func (s *SQLiteStore) Set(ctx context.Context, key string, data model.EnrichmentData, ttl time.Duration) error {
	b, err := encodeData(data)
	if err != nil {
		return eris.Wrap(err, "sqlite: set cache")
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichment_cache (cache_key, data, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, string(b), now.UnixNano(), now.Add(ttl).UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: set cache %s", key)
}

// SetMany writes several cache entries in one transaction.
func (s *SQLiteStore) SetMany(ctx context.Context, entries []CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: set many: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO enrichment_cache (cache_key, data, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at, expires_at = excluded.expires_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: set many: prepare")
	}
	defer stmt.Close()

	now := s.now()
	for _, e := range entries {
		b, err := encodeData(e.Data)
		if err != nil {
			return eris.Wrap(err, "sqlite: set many")
		}
		if _, err := stmt.ExecContext(ctx, e.Key, string(b), now.UnixNano(), now.Add(e.TTL).UnixNano()); err != nil {
			return eris.Wrapf(err, "sqlite: set many %s", e.Key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: set many: commit")
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM enrichment_cache WHERE expires_at <= ?`, s.now().UnixNano(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) Enqueue(ctx context.Context, job *model.Job) error {
	if err := prepareJob(job, uuid.New().String(), s.now().UTC()); err != nil {
		return eris.Wrap(err, "sqlite: enqueue")
	}
	payload, err := encodePayload(job)
	if err != nil {
		return eris.Wrap(err, "sqlite: enqueue")
	}
	ts := job.CreatedAt.UnixNano()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichment_jobs (id, payload, budget_cents, concurrency, status, progress, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		job.ID, string(payload), job.BudgetCents, job.Concurrency, string(job.Status), ts, ts,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

// Dequeue claims the oldest queued job. A single UPDATE ... RETURNING keeps
// the claim atomic across workers sharing the file.
func (s *SQLiteStore) Dequeue(ctx context.Context) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE enrichment_jobs SET status = ?, updated_at = ?
		 WHERE id = (SELECT id FROM enrichment_jobs WHERE status = ? ORDER BY created_at, rowid LIMIT 1)
		 RETURNING `+sqliteJobColumns,
		string(model.JobStatusRunning), s.now().UTC().UnixNano(), string(model.JobStatusQueued),
	)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

func (s *SQLiteStore) Progress(ctx context.Context, jobID string, progress int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs SET progress = ?, updated_at = ? WHERE id = ?`,
		clampProgress(progress), s.now().UTC().UnixNano(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update progress %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) Ack(ctx context.Context, jobID string, result *model.BatchResult, runErr error) error {
	status, errText := ackStatus(runErr)
	var resultJSON sql.NullString
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal job result")
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_jobs
		 SET status = ?, result = ?, error = ?, progress = CASE WHEN ? THEN 100 ELSE progress END, updated_at = ?
		 WHERE id = ?`,
		string(status), resultJSON, errText, runErr == nil, s.now().UTC().UnixNano(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: ack job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM enrichment_jobs WHERE id = ?`, jobID,
	)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: job %s", jobID)
	}
	return job, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM enrichment_jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// helpers

const sqliteJobColumns = `id, payload, budget_cents, concurrency, status, progress, result, error, created_at, updated_at`

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row scannable) (*model.Job, error) {
	var (
		j          model.Job
		payload    string
		status     string
		resultJSON sql.NullString
		created    int64
		updated    int64
	)
	err := row.Scan(&j.ID, &payload, &j.BudgetCents, &j.Concurrency, &status, &j.Progress,
		&resultJSON, &j.Error, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	j.Status = model.JobStatus(status)
	j.CreatedAt = time.Unix(0, created).UTC()
	j.UpdatedAt = time.Unix(0, updated).UTC()

	if err := decodePayload([]byte(payload), &j); err != nil {
		return nil, eris.Wrap(err, "sqlite")
	}
	if resultJSON.Valid {
		j.Result = &model.BatchResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), j.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal job result")
		}
	}
	return &j, nil
}
