package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResult struct {
	n   int64
	err error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.n, r.err }

func TestCheckRowsAffected(t *testing.T) {
	err := checkRowsAffected(fakeResult{n: 0}, "job", "abc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "job abc")

	err = checkRowsAffected(fakeResult{err: errors.New("driver")}, "job", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rows affected")

	assert.NoError(t, checkRowsAffected(fakeResult{n: 1}, "job", "abc"))
}

func TestSQLite_CorruptCacheRow(t *testing.T) {
	s := newTestSQLite(t).(*SQLiteStore)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_cache (cache_key, data, cached_at, expires_at) VALUES (?, ?, ?, ?)`,
		"bad", "{not json", time.Now().UnixNano(), time.Now().Add(time.Hour).UnixNano())
	require.NoError(t, err)

	_, err = s.Get(ctx, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal cache data")
}

func TestSQLite_CorruptJobPayload(t *testing.T) {
	s := newTestSQLite(t).(*SQLiteStore)
	ctx := context.Background()

	now := time.Now().UnixNano()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_jobs (id, payload, status, created_at, updated_at) VALUES (?, ?, 'queued', ?, ?)`,
		"broken", "[]x", now, now)
	require.NoError(t, err)

	_, err = s.GetJob(ctx, "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal payload for job broken")
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Set(ctx, "email:jane@acme.com", sampleData(), time.Hour))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))

	got, err := s.Get(ctx, "email:jane@acme.com")
	require.NoError(t, err)
	assert.Equal(t, sampleData(), got)
}
