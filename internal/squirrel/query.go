// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package squirrel

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/pyrocko/squirrel/internal/model"
)

type projNutRow struct {
	Path   string         `db:"path"`
	Format sql.NullString `db:"format"`
	MTime  sql.NullTime   `db:"mtime"`
	Size   sql.NullInt64  `db:"size"`

	FileSegment int64  `db:"file_segment"`
	FileElement int64  `db:"file_element"`
	Kind        string `db:"kind"`
	Codes       string `db:"codes"`

	TMinSeconds int64           `db:"tmin_seconds"`
	TMinOffset  float64         `db:"tmin_offset"`
	TMaxSeconds int64           `db:"tmax_seconds"`
	TMaxOffset  float64         `db:"tmax_offset"`
	Deltat      sql.NullFloat64 `db:"deltat"`
	Kscale      int             `db:"kscale"`
}

func (r projNutRow) toNut() (model.Nut, error) {
	codes, err := model.ParseCodes(model.Kind(r.Kind), r.Codes)
	if err != nil {
		return model.Nut{}, fmt.Errorf("squirrel: decoding row: %w", err)
	}
	var deltat *float64
	if r.Deltat.Valid {
		v := r.Deltat.Float64
		deltat = &v
	}
	return model.FromRow(
		r.Path, r.Format.String, r.MTime.Time, r.Size.Int64,
		r.FileSegment, r.FileElement,
		model.Kind(r.Kind), codes,
		r.TMinSeconds, r.TMinOffset, r.TMaxSeconds, r.TMaxOffset,
		deltat, r.Kscale,
	), nil
}

const projNutColumns = `
	files.path AS path, files.format AS format, files.mtime AS mtime, files.size AS size,
	proj.file_segment AS file_segment, proj.file_element AS file_element,
	kind_codes.kind AS kind, kind_codes.codes AS codes,
	proj.tmin_seconds AS tmin_seconds, proj.tmin_offset AS tmin_offset,
	proj.tmax_seconds AS tmax_seconds, proj.tmax_offset AS tmax_offset,
	proj.deltat AS deltat, proj.kscale AS kscale`

func (s *Squirrel) queryNuts(ctx context.Context, where string, args ...any) ([]model.Nut, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s AS proj
		JOIN files ON files.file_id = proj.file_id
		JOIN kind_codes ON kind_codes.kind_codes_id = proj.kind_codes_id
		%s`, projNutColumns, s.nutsTable, where)

	var rows []projNutRow
	if err := s.GetDatabase().DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("squirrel: query: %w", err)
	}
	nuts := make([]model.Nut, 0, len(rows))
	for _, r := range rows {
		n, err := r.toNut()
		if err != nil {
			return nil, err
		}
		nuts = append(nuts, n)
	}
	return nuts, nil
}

// UndigSpanNaive is the unindexed baseline predicate of spec.md §4.7:
// tmax_seconds >= T0_seconds AND tmin_seconds <= T1_seconds, refined
// by the exact half-open interval test in application code. Used
// alongside UndigSpan to verify bucketed-vs-naive equivalence
// (property #3/#4 of spec.md §8); not meant for production queries.
func (s *Squirrel) UndigSpanNaive(ctx context.Context, tmin, tmax float64) ([]model.Nut, error) {
	t0s, _ := model.TSplit(tmin)
	t1s, _ := model.TSplit(tmax)

	nuts, err := s.queryNuts(ctx,
		`WHERE proj.tmax_seconds >= ? AND proj.tmin_seconds <= ?`, t0s, t1s)
	if err != nil {
		return nil, err
	}
	return filterExact(nuts, tmin, tmax), nil
}

// UndigSpan is the bucketed interval query of spec.md §4.7: for each
// duration class k with upper edge E[k], only nuts with
// tmin_seconds in [T0_seconds - E[k] - 1, T1_seconds + 1] can
// intersect; the overflow class instead tests
// tmin_seconds <= T1_seconds + 1. The disjunction is ANDed with
// tmax_seconds >= T0_seconds to prune left overhang, and refined by
// the same exact filter UndigSpanNaive applies.
func (s *Squirrel) UndigSpan(ctx context.Context, tmin, tmax float64) ([]model.Nut, error) {
	t0s, _ := model.TSplit(tmin)
	t1s, _ := model.TSplit(tmax)

	var clauses []string
	var args []any
	for k, edge := range model.DurationEdges {
		clauses = append(clauses, `(proj.kscale = ? AND proj.tmin_seconds BETWEEN ? AND ?)`)
		args = append(args, k, t0s-int64(edge)-1, t1s+1)
	}
	clauses = append(clauses, `(proj.kscale = ? AND proj.tmin_seconds <= ?)`)
	args = append(args, model.KscaleOverflow, t1s+1)

	where := fmt.Sprintf("WHERE proj.tmax_seconds >= ? AND (%s)", orJoin(clauses))
	args = append([]any{t0s}, args...)

	nuts, err := s.queryNuts(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	return filterExact(nuts, tmin, tmax), nil
}

func orJoin(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " OR " + c
	}
	return out
}

// filterExact applies the half-open [T0, T1) tie-break rule of
// spec.md §4.7: a nut ending exactly at T0 does not qualify, nor one
// beginning exactly at T1.
func filterExact(nuts []model.Nut, t0, t1 float64) []model.Nut {
	out := nuts[:0:0]
	for _, n := range nuts {
		if n.TMin() < t1 && t0 < n.TMax() {
			out = append(out, n)
		}
	}
	return out
}

// IterCodes returns the distinct codes tuples currently projected
// into this Squirrel, optionally restricted to one kind.
func (s *Squirrel) IterCodes(ctx context.Context, kind *model.Kind) ([]model.Codes, error) {
	builder := sq.Select("DISTINCT kind_codes.kind", "kind_codes.codes").
		From("kind_codes").
		Join(fmt.Sprintf("%s ON %s.kind_codes_id = kind_codes.kind_codes_id", s.countTable, s.countTable)).
		Where(sq.Gt{s.countTable + ".count": 0})
	if kind != nil {
		builder = builder.Where(sq.Eq{"kind_codes.kind": string(*kind)})
	}

	rows, err := builder.RunWith(s.stmtCache).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("squirrel: iter_codes: %w", err)
	}
	defer rows.Close()

	var out []model.Codes
	for rows.Next() {
		var k, codesStr string
		if err := rows.Scan(&k, &codesStr); err != nil {
			return nil, fmt.Errorf("squirrel: iter_codes: %w", err)
		}
		c, err := model.ParseCodes(model.Kind(k), codesStr)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IterKinds returns the distinct kinds currently projected into this
// Squirrel, optionally restricted to one codes tuple.
func (s *Squirrel) IterKinds(ctx context.Context, codes *model.Codes) ([]model.Kind, error) {
	builder := sq.Select("DISTINCT kind_codes.kind").
		From("kind_codes").
		Join(fmt.Sprintf("%s ON %s.kind_codes_id = kind_codes.kind_codes_id", s.countTable, s.countTable)).
		Where(sq.Gt{s.countTable + ".count": 0})
	if codes != nil {
		builder = builder.Where(sq.Eq{"kind_codes.codes": codes.String()})
	}

	rows, err := builder.RunWith(s.stmtCache).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("squirrel: iter_kinds: %w", err)
	}
	defer rows.Close()

	var out []model.Kind
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("squirrel: iter_kinds: %w", err)
		}
		out = append(out, model.Kind(k))
	}
	return out, rows.Err()
}

// IterCounts returns the population count per codes tuple, optionally
// restricted to one kind. O(1) per row: read straight off the
// per-selection count table maintained by triggers.
func (s *Squirrel) IterCounts(ctx context.Context, kind *model.Kind) (map[string]int64, error) {
	builder := sq.Select("kind_codes.codes", s.countTable+".count").
		From("kind_codes").
		Join(fmt.Sprintf("%s ON %s.kind_codes_id = kind_codes.kind_codes_id", s.countTable, s.countTable)).
		Where(sq.Gt{s.countTable + ".count": 0})
	if kind != nil {
		builder = builder.Where(sq.Eq{"kind_codes.kind": string(*kind)})
	}

	rows, err := builder.RunWith(s.stmtCache).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("squirrel: iter_counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var codesStr string
		var count int64
		if err := rows.Scan(&codesStr, &count); err != nil {
			return nil, fmt.Errorf("squirrel: iter_counts: %w", err)
		}
		out[codesStr] = count
	}
	return out, rows.Err()
}

// TimeSpan returns the overall [tmin, tmax) covered by this
// Squirrel's projection, and false if it is empty.
func (s *Squirrel) TimeSpan(ctx context.Context) (tmin, tmax float64, ok bool, err error) {
	var lo, hi struct {
		Seconds sql.NullInt64   `db:"seconds"`
		Offset  sql.NullFloat64 `db:"offset"`
	}
	db := s.GetDatabase().DB
	loQuery := fmt.Sprintf(`SELECT tmin_seconds AS seconds, tmin_offset AS offset FROM %s ORDER BY tmin_seconds ASC, tmin_offset ASC LIMIT 1`, s.nutsTable)
	hiQuery := fmt.Sprintf(`SELECT tmax_seconds AS seconds, tmax_offset AS offset FROM %s ORDER BY tmax_seconds DESC, tmax_offset DESC LIMIT 1`, s.nutsTable)

	if err := db.GetContext(ctx, &lo, loQuery); err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("squirrel: time_span: %w", err)
	}
	if err := db.GetContext(ctx, &hi, hiQuery); err != nil {
		return 0, 0, false, fmt.Errorf("squirrel: time_span: %w", err)
	}
	tmin = model.TJoin(lo.Seconds.Int64, lo.Offset.Float64, nil)
	tmax = model.TJoin(hi.Seconds.Int64, hi.Offset.Float64, nil)
	return tmin, tmax, true, nil
}

// GetNfiles returns the number of distinct files currently in this
// Squirrel's selection.
func (s *Squirrel) GetNfiles(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.StateTable())
	if err := s.GetDatabase().DB.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("squirrel: get_nfiles: %w", err)
	}
	return n, nil
}

// GetNnuts returns the total number of nuts projected into this
// Squirrel, read off the count table in O(number of distinct codes).
func (s *Squirrel) GetNnuts(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	query := fmt.Sprintf(`SELECT SUM(count) FROM %s`, s.countTable)
	if err := s.GetDatabase().DB.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("squirrel: get_nnuts: %w", err)
	}
	return n.Int64, nil
}

// GetTotalSize returns the summed on-disk size of every file
// currently in this Squirrel's selection.
func (s *Squirrel) GetTotalSize(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	query := fmt.Sprintf(`
		SELECT SUM(files.size) FROM %s AS state
		JOIN files ON files.file_id = state.file_id`, s.StateTable())
	if err := s.GetDatabase().DB.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("squirrel: get_total_size: %w", err)
	}
	return n.Int64, nil
}

// Stats bundles the O(1) aggregate accessors, mirroring get_stats().
type Stats struct {
	Nfiles    int64
	Nnuts     int64
	TotalSize int64
	Tmin      float64
	Tmax      float64
	HasSpan   bool
}

// GetStats returns every O(1) aggregate in one call.
func (s *Squirrel) GetStats(ctx context.Context) (Stats, error) {
	nfiles, err := s.GetNfiles(ctx)
	if err != nil {
		return Stats{}, err
	}
	nnuts, err := s.GetNnuts(ctx)
	if err != nil {
		return Stats{}, err
	}
	size, err := s.GetTotalSize(ctx)
	if err != nil {
		return Stats{}, err
	}
	tmin, tmax, ok, err := s.TimeSpan(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Nfiles: nfiles, Nnuts: nnuts, TotalSize: size, Tmin: tmin, Tmax: tmax, HasSpan: ok}, nil
}
