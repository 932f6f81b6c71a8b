package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a bulk upsert into Table.
type UpsertConfig struct {
	Table        string   // may be schema-qualified
	Columns      []string // column order of each row
	ConflictKeys []string // the unique constraint rows collide on
	UpdateCols   []string // nil updates every non-key column
	// GuardColumn, when set, only lets a row replace an existing one whose
	// value in this column is not newer.
	GuardColumn string
}

// upsertPlan is the SQL a BulkUpsert runs, built up front so it can be
// checked without a database.
type upsertPlan struct {
	staging string
	create  string
	merge   string
	keyIdx  []int
}

func planUpsert(cfg UpsertConfig) (*upsertPlan, error) {
	if len(cfg.Columns) == 0 {
		return nil, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return nil, eris.New("db: upsert: no conflict keys specified")
	}

	pos := make(map[string]int, len(cfg.Columns))
	for i, c := range cfg.Columns {
		pos[c] = i
	}
	p := &upsertPlan{staging: "_tmp_upsert_" + strings.ReplaceAll(cfg.Table, ".", "_")}
	isKey := make(map[string]bool, len(cfg.ConflictKeys))
	for _, k := range cfg.ConflictKeys {
		i, ok := pos[k]
		if !ok {
			return nil, eris.Errorf("db: upsert: conflict key %q is not a column", k)
		}
		isKey[k] = true
		p.keyIdx = append(p.keyIdx, i)
	}

	update := cfg.UpdateCols
	if update == nil {
		for _, c := range cfg.Columns {
			if !isKey[c] {
				update = append(update, c)
			}
		}
	}
	set := make([]string, len(update))
	for i, c := range update {
		q := pgx.Identifier{c}.Sanitize()
		set[i] = q + " = EXCLUDED." + q
	}

	target := sanitizeTable(cfg.Table)
	staging := pgx.Identifier{p.staging}.Sanitize()
	cols := quoteAndJoin(cfg.Columns)

	p.create = fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", staging, target)
	p.merge = fmt.Sprintf("INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		target, cols, cols, staging, quoteAndJoin(cfg.ConflictKeys), strings.Join(set, ", "))
	if cfg.GuardColumn != "" {
		if _, ok := pos[cfg.GuardColumn]; !ok {
			return nil, eris.Errorf("db: upsert: guard column %q is not a column", cfg.GuardColumn)
		}
		g := pgx.Identifier{cfg.GuardColumn}.Sanitize()
		p.merge += fmt.Sprintf(" WHERE t.%s <= EXCLUDED.%s", g, g)
	}
	return p, nil
}

// dedupe keeps the last row for each conflict key. ON CONFLICT refuses to
// touch the same target row twice in one statement.
func (p *upsertPlan) dedupe(rows [][]any) [][]any {
	last := make(map[string]int, len(rows))
	order := make([]string, 0, len(rows))
	for i, r := range rows {
		var b strings.Builder
		for _, k := range p.keyIdx {
			fmt.Fprintf(&b, "%v\x00", r[k])
		}
		key := b.String()
		if _, seen := last[key]; !seen {
			order = append(order, key)
		}
		last[key] = i
	}
	if len(order) == len(rows) {
		return rows
	}
	out := make([][]any, len(order))
	for i, key := range order {
		out[i] = rows[last[key]]
	}
	return out
}

// BulkUpsert stages rows in a temp table with COPY, then merges them into
// the target with one INSERT ... ON CONFLICT inside a transaction. It
// returns the number of target rows written.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	plan, err := planUpsert(cfg)
	if err != nil {
		return 0, err
	}
	rows = plan.dedupe(rows)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, plan.create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create staging table for %s", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{plan.staging}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into staging table for %s", cfg.Table)
	}
	tag, err := tx.Exec(ctx, plan.merge)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: merge into %s", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}
	return tag.RowsAffected(), nil
}

func sanitizeTable(table string) string {
	return pgx.Identifier(strings.SplitN(table, ".", 2)).Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
