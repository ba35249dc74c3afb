// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/pyrocko/squirrel/internal/model"
	"github.com/pyrocko/squirrel/pkg/log"
)

type fileRow struct {
	FileID int64          `db:"file_id"`
	Path   string         `db:"path"`
	Format sql.NullString `db:"format"`
	MTime  sql.NullTime   `db:"mtime"`
	Size   sql.NullInt64  `db:"size"`
}

func codesKey(kind model.Kind, codes model.Codes) string {
	return string(kind) + "\x00" + codes.String()
}

// Dig bulk-inserts nuts, upserting their owning files and kind-codes
// dictionary entries first, per spec.md §4.1. Touching a file row
// (even to the same values) fires the files_before_update trigger,
// which clears any nuts previously indexed for that file — dig
// relies on this to make re-ingestion idempotent-by-replacement.
func (idx *Index) Dig(ctx context.Context, nuts []model.Nut) error {
	if len(nuts) == 0 {
		return nil
	}

	tx, err := idx.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: dig: begin: %w", err)
	}
	defer tx.Rollback()

	fileIDs := make(map[string]int64)
	for _, n := range nuts {
		if _, ok := fileIDs[n.FilePath]; ok {
			continue
		}
		id, err := upsertFile(ctx, tx, n)
		if err != nil {
			return err
		}
		fileIDs[n.FilePath] = id
	}

	kindCodesIDs := make(map[string]int64)
	for _, n := range nuts {
		key := codesKey(n.Kind, n.Codes)
		if _, ok := kindCodesIDs[key]; ok {
			continue
		}
		id, err := upsertKindCodes(ctx, tx, n.Kind, n.Codes)
		if err != nil {
			return err
		}
		kindCodesIDs[key] = id
	}

	insert := sq.Insert("nuts").Columns(
		"file_id", "file_segment", "file_element", "kind_codes_id",
		"tmin_seconds", "tmin_offset", "tmax_seconds", "tmax_offset",
		"deltat", "kscale",
	)
	for _, n := range nuts {
		insert = insert.Values(
			fileIDs[n.FilePath], n.FileSegment, n.FileElement,
			kindCodesIDs[codesKey(n.Kind, n.Codes)],
			n.TMinSeconds, n.TMinOffset, n.TMaxSeconds, n.TMaxOffset,
			n.Deltat, n.Kscale,
		)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("index: dig: building insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("index: dig: inserting nuts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: dig: commit: %w", err)
	}
	log.Debugf("index: dig: %d nuts across %d files", len(nuts), len(fileIDs))
	return nil
}

func upsertFile(ctx context.Context, tx *sqlx.Tx, n model.Nut) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO files(path) VALUES (?)`, n.FilePath); err != nil {
		return 0, fmt.Errorf("index: dig: inserting file %q: %w", n.FilePath, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET format = ?, mtime = ?, size = ? WHERE path = ?`,
		n.FileFormat, n.FileMTime, n.FileSize, n.FilePath); err != nil {
		return 0, fmt.Errorf("index: dig: updating file %q: %w", n.FilePath, err)
	}
	var id int64
	if err := tx.GetContext(ctx, &id, `SELECT file_id FROM files WHERE path = ?`, n.FilePath); err != nil {
		return 0, fmt.Errorf("index: dig: resolving file_id for %q: %w", n.FilePath, err)
	}
	return id, nil
}

func upsertKindCodes(ctx context.Context, tx *sqlx.Tx, kind model.Kind, codes model.Codes) (int64, error) {
	codesStr := codes.String()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO kind_codes(kind, codes) VALUES (?, ?)`, string(kind), codesStr); err != nil {
		return 0, fmt.Errorf("index: dig: inserting kind_codes (%s, %s): %w", kind, codesStr, err)
	}
	var id int64
	if err := tx.GetContext(ctx, &id,
		`SELECT kind_codes_id FROM kind_codes WHERE kind = ? AND codes = ?`, string(kind), codesStr); err != nil {
		return 0, fmt.Errorf("index: dig: resolving kind_codes_id for (%s, %s): %w", kind, codesStr, err)
	}
	return id, nil
}

const selectNutColumns = `
	files.path, files.format, files.mtime, files.size,
	nuts.file_segment, nuts.file_element,
	kind_codes.kind, kind_codes.codes,
	nuts.tmin_seconds, nuts.tmin_offset, nuts.tmax_seconds, nuts.tmax_offset,
	nuts.deltat, nuts.kscale`

type nutRow struct {
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

func (r nutRow) toNut() (model.Nut, error) {
	codes, err := model.ParseCodes(model.Kind(r.Kind), r.Codes)
	if err != nil {
		return model.Nut{}, fmt.Errorf("index: decoding row: %w", err)
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

// Undig returns all nuts currently indexed for a single path.
func (idx *Index) Undig(ctx context.Context, path string) ([]model.Nut, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM nuts
		JOIN files ON files.file_id = nuts.file_id
		JOIN kind_codes ON kind_codes.kind_codes_id = nuts.kind_codes_id
		WHERE files.path = ?
		ORDER BY nuts.nut_id`, selectNutColumns)

	var rows []nutRow
	if err := idx.DB.SelectContext(ctx, &rows, query, path); err != nil {
		return nil, fmt.Errorf("index: undig %q: %w", path, err)
	}
	return rowsToNuts(rows)
}

func rowsToNuts(rows []nutRow) ([]model.Nut, error) {
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

// Group is one (path, nuts) pair yielded by UndigAll/UndigMany.
type Group struct {
	Path string
	Nuts []model.Nut
}

// GroupIterator is the explicit iterator object called for by
// spec.md §9 ("a target lacking first-class generators uses an
// explicit iterator object that owns the prepared statement and
// advances on next"): it owns the underlying *sql.Rows and groups
// consecutive rows sharing a path into one Group per Next call.
type GroupIterator struct {
	rows    *sqlx.Rows
	pending *nutRow
	cur     Group
	err     error
}

// Next advances to the next file group. It returns false at EOF or
// on error; check Err afterwards.
func (it *GroupIterator) Next() bool {
	if it.err != nil {
		return false
	}

	var r nutRow
	if it.pending != nil {
		r = *it.pending
		it.pending = nil
	} else {
		if !it.rows.Next() {
			it.err = it.rows.Err()
			return false
		}
		if err := it.rows.StructScan(&r); err != nil {
			it.err = err
			return false
		}
	}

	group := Group{Path: r.Path}
	n, err := r.toNut()
	if err != nil {
		it.err = err
		return false
	}
	group.Nuts = append(group.Nuts, n)

	for it.rows.Next() {
		var next nutRow
		if err := it.rows.StructScan(&next); err != nil {
			it.err = err
			return false
		}
		if next.Path != r.Path {
			it.pending = &next
			break
		}
		n, err := next.toNut()
		if err != nil {
			it.err = err
			return false
		}
		group.Nuts = append(group.Nuts, n)
	}

	it.cur = group
	return true
}

// Group returns the group produced by the most recent Next call.
func (it *GroupIterator) Group() Group { return it.cur }

// Err returns the first error encountered, if any.
func (it *GroupIterator) Err() error { return it.err }

// Close releases the underlying rows.
func (it *GroupIterator) Close() error { return it.rows.Close() }

// UndigAll returns a lazy, file-ordered stream of (path, nuts)
// groups for every file currently in the index.
func (idx *Index) UndigAll(ctx context.Context) (*GroupIterator, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM nuts
		JOIN files ON files.file_id = nuts.file_id
		JOIN kind_codes ON kind_codes.kind_codes_id = nuts.kind_codes_id
		ORDER BY files.file_id, nuts.nut_id`, selectNutColumns)

	rows, err := idx.DB.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("index: undig_all: %w", err)
	}
	return &GroupIterator{rows: rows}, nil
}

// UndigMany restricts UndigAll's stream to the given paths.
func (idx *Index) UndigMany(ctx context.Context, paths []string) (*GroupIterator, error) {
	if len(paths) == 0 {
		return &GroupIterator{rows: emptyRows(idx)}, nil
	}

	builder := sq.Select(selectNutColumnList...).
		From("nuts").
		Join("files ON files.file_id = nuts.file_id").
		Join("kind_codes ON kind_codes.kind_codes_id = nuts.kind_codes_id").
		Where(sq.Eq{"files.path": paths}).
		OrderBy("files.file_id", "nuts.nut_id")

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("index: undig_many: building query: %w", err)
	}
	rows, err := idx.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: undig_many: %w", err)
	}
	return &GroupIterator{rows: rows}, nil
}

var selectNutColumnList = []string{
	"files.path", "files.format", "files.mtime", "files.size",
	"nuts.file_segment", "nuts.file_element",
	"kind_codes.kind", "kind_codes.codes",
	"nuts.tmin_seconds", "nuts.tmin_offset", "nuts.tmax_seconds", "nuts.tmax_offset",
	"nuts.deltat", "nuts.kscale",
}

func emptyRows(idx *Index) *sqlx.Rows {
	rows, _ := idx.DB.QueryxContext(context.Background(), `SELECT * FROM files WHERE 0`)
	return rows
}

// EnsureFile inserts path into the files table if absent, leaving an
// existing row untouched, and returns its file_id. Selections use
// this for add(), which registers a path globally without yet
// knowing its format/mtime/size.
func (idx *Index) EnsureFile(ctx context.Context, path string) (int64, error) {
	if _, err := idx.DB.ExecContext(ctx, `INSERT OR IGNORE INTO files(path) VALUES (?)`, path); err != nil {
		return 0, fmt.Errorf("index: ensure_file %q: %w", path, err)
	}
	var id int64
	if err := idx.DB.GetContext(ctx, &id, `SELECT file_id FROM files WHERE path = ?`, path); err != nil {
		return 0, fmt.Errorf("index: ensure_file %q: %w", path, err)
	}
	return id, nil
}

// Remove deletes the file row for path; the files_before_delete
// trigger cascades to its nuts and their count decrements.
func (idx *Index) Remove(ctx context.Context, path string) error {
	if _, err := idx.DB.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: remove %q: %w", path, err)
	}
	return nil
}

// Reset nulls a file's (format, mtime, size) without removing its
// row, signalling "previously known, now stale"; the
// files_before_update trigger drops its nuts.
func (idx *Index) Reset(ctx context.Context, path string) error {
	res, err := idx.DB.ExecContext(ctx,
		`UPDATE files SET format = NULL, mtime = NULL, size = NULL WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("index: reset %q: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("index: reset %q: %w", path, err)
	}
	if n == 0 {
		if _, err := idx.DB.ExecContext(ctx,
			`INSERT INTO files(path, format, mtime, size) VALUES (?, NULL, NULL, NULL)`, path); err != nil {
			return fmt.Errorf("index: reset %q: inserting placeholder row: %w", path, err)
		}
	}
	return nil
}

// GetFileStats returns the (format, mtime, size) currently stored for
// path, or sql.ErrNoRows if it is unknown to the index.
func (idx *Index) GetFileStats(ctx context.Context, path string) (format string, mtime sql.NullTime, size sql.NullInt64, err error) {
	var row fileRow
	if err := idx.DB.GetContext(ctx, &row, `SELECT file_id, path, format, mtime, size FROM files WHERE path = ?`, path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sql.NullTime{}, sql.NullInt64{}, err
		}
		return "", sql.NullTime{}, sql.NullInt64{}, fmt.Errorf("index: get_file_stats %q: %w", path, err)
	}
	return row.Format.String, row.MTime, row.Size, nil
}
