// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package selection implements the named, per-file-state subset of
// the global index described in spec.md §3/§4.5: transient
// (process-private) or persistent (shared-database) selections
// layered on top of internal/index.
package selection

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/pyrocko/squirrel/internal/backend"
	"github.com/pyrocko/squirrel/internal/index"
	"github.com/pyrocko/squirrel/internal/model"
	"github.com/pyrocko/squirrel/pkg/log"
)

// File state enum, spec.md §3.
const (
	StateCurrent = 0 // known & believed current
	StatePending = 1 // known, revalidation pending
	StateIndexed = 2 // indexed into this selection's projection (Squirrel only)
)

var persistentNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var (
	tempNameMu      sync.Mutex
	tempNameCounter int
)

// nextTempName generates a process-wide unique transient table name
// of the form sel_<pid>_<counter> (spec.md §5).
func nextTempName() string {
	tempNameMu.Lock()
	defer tempNameMu.Unlock()
	tempNameCounter++
	return fmt.Sprintf("sel_%d_%d", os.Getpid(), tempNameCounter)
}

// Selection is a named subset of files with per-file state, backed
// by its own state-map table.
type Selection struct {
	idx        *index.Index
	stateTable string
	persistent bool
}

// NewTransient creates a process-private selection scoped to idx's
// connection. Its state table is dropped by Close.
func NewTransient(ctx context.Context, idx *index.Index) (*Selection, error) {
	name := "temp_" + nextTempName()
	if err := createStateTable(ctx, idx, name, true); err != nil {
		return nil, err
	}
	return &Selection{idx: idx, stateTable: name, persistent: false}, nil
}

// NewPersistent creates (or reopens) a named selection that survives
// process restarts, visible to any process sharing idx's database.
// defaultIdx is the caller's main/shared index; using it for a
// persistent selection is a configuration error (spec.md §4.5).
func NewPersistent(ctx context.Context, idx, defaultIdx *index.Index, name string) (*Selection, error) {
	if !persistentNameRe.MatchString(name) {
		return nil, &model.ConfigError{Reason: fmt.Sprintf("invalid persistent selection name %q", name)}
	}
	if idx == defaultIdx {
		return nil, &model.ConfigError{Reason: "persistent selection must not use the default (shared) database"}
	}

	table := "selection_" + name
	if err := createStateTable(ctx, idx, table, false); err != nil {
		return nil, err
	}
	return &Selection{idx: idx, stateTable: table, persistent: true}, nil
}

func createStateTable(ctx context.Context, idx *index.Index, table string, temp bool) error {
	kind := "TABLE"
	if temp {
		kind = "TEMP TABLE"
	}
	stmt := fmt.Sprintf(
		`CREATE %s IF NOT EXISTS %s (file_id INTEGER PRIMARY KEY, file_state INTEGER NOT NULL)`,
		kind, table)
	if _, err := idx.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("selection: creating state table %q: %w", table, err)
	}
	return nil
}

// StateTable returns the selection's state-map table name, used by
// Squirrel to build its own projection tables alongside it.
func (s *Selection) StateTable() string { return s.stateTable }

// GetDatabase returns the index this selection is layered on.
func (s *Selection) GetDatabase() *index.Index { return s.idx }

// IsPersistent reports whether this selection survives Close (used by
// Squirrel to decide whether to drop its projection tables alongside
// the state table).
func (s *Selection) IsPersistent() bool { return s.persistent }

// Close drops the transient state table, or is a no-op for a
// persistent selection (its table survives by design).
func (s *Selection) Close(ctx context.Context) error {
	if s.persistent {
		return nil
	}
	if _, err := s.idx.DB.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.stateTable)); err != nil {
		return fmt.Errorf("selection: dropping %q: %w", s.stateTable, err)
	}
	return nil
}

// Add registers paths in the global files table (if not already
// present) and inserts them into this selection's state map with
// the given state, leaving any existing membership untouched.
func (s *Selection) Add(ctx context.Context, paths []string, state int) error {
	for _, p := range paths {
		fileID, err := s.idx.EnsureFile(ctx, p)
		if err != nil {
			return err
		}
		stmt := fmt.Sprintf(`INSERT OR IGNORE INTO %s(file_id, file_state) VALUES (?, ?)`, s.stateTable)
		if _, err := s.idx.DB.ExecContext(ctx, stmt, fileID, state); err != nil {
			return fmt.Errorf("selection: add %q: %w", p, err)
		}
	}
	return nil
}

// Remove deletes paths from this selection's state map. It does not
// touch the global files table.
func (s *Selection) Remove(ctx context.Context, paths []string) error {
	for _, p := range paths {
		stmt := fmt.Sprintf(`DELETE FROM %s WHERE file_id = (SELECT file_id FROM files WHERE path = ?)`, s.stateTable)
		if _, err := s.idx.DB.ExecContext(ctx, stmt, p); err != nil {
			return fmt.Errorf("selection: remove %q: %w", p, err)
		}
	}
	return nil
}

// SetState sets file_state for every row currently in this
// selection's state map matching fileIDs.
func (s *Selection) setState(ctx context.Context, fileIDs []int64, state int) error {
	for _, id := range fileIDs {
		stmt := fmt.Sprintf(`UPDATE %s SET file_state = ? WHERE file_id = ?`, s.stateTable)
		if _, err := s.idx.DB.ExecContext(ctx, stmt, state, id); err != nil {
			return fmt.Errorf("selection: set_state: %w", err)
		}
	}
	return nil
}

// Group is a (path, nuts) pair produced by UndigGrouped. Nuts is
// empty for a file with no globally-indexed content yet.
type Group struct {
	Path  string
	Nuts  []model.Nut
	State int
}

// UndigGrouped left-outer-joins this selection's state map through
// files, nuts and kind_codes, grouping rows by file (spec.md §4.5).
// If skipUnchanged, only files with file_state == 0 are included.
func (s *Selection) UndigGrouped(ctx context.Context, skipUnchanged bool) ([]Group, error) {
	where := ""
	if skipUnchanged {
		where = "WHERE state.file_state = 0"
	}
	return s.undigGrouped(ctx, where)
}

// UndigGroupedPending is the complement used by the ingest pipeline's
// own skip_unchanged option (spec.md §4.4): only files whose state is
// not 0, i.e. those flag_unchanged left marked as needing a look.
func (s *Selection) UndigGroupedPending(ctx context.Context) ([]Group, error) {
	return s.undigGrouped(ctx, "WHERE state.file_state != 0")
}

func (s *Selection) undigGrouped(ctx context.Context, where string) ([]Group, error) {
	query := fmt.Sprintf(`
		SELECT files.path AS path, state.file_state AS file_state,
			nuts.file_segment AS file_segment, nuts.file_element AS file_element,
			kind_codes.kind AS kind, kind_codes.codes AS codes,
			files.format AS format, files.mtime AS mtime, files.size AS size,
			nuts.tmin_seconds AS tmin_seconds, nuts.tmin_offset AS tmin_offset,
			nuts.tmax_seconds AS tmax_seconds, nuts.tmax_offset AS tmax_offset,
			nuts.deltat AS deltat, nuts.kscale AS kscale
		FROM %s AS state
		JOIN files ON files.file_id = state.file_id
		LEFT JOIN nuts ON nuts.file_id = state.file_id
		LEFT JOIN kind_codes ON kind_codes.kind_codes_id = nuts.kind_codes_id
		%s
		ORDER BY files.file_id, nuts.nut_id`,
		s.stateTable,
		where)

	rows, err := s.idx.DB.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("selection: undig_grouped: %w", err)
	}
	defer rows.Close()

	var groups []Group
	var cur *Group
	for rows.Next() {
		var r groupedRow
		if err := rows.StructScan(&r); err != nil {
			return nil, fmt.Errorf("selection: undig_grouped: scanning: %w", err)
		}
		if cur == nil || cur.Path != r.Path {
			if cur != nil {
				groups = append(groups, *cur)
			}
			cur = &Group{Path: r.Path, State: int(r.FileState)}
		}
		if r.FileSegment.Valid {
			n, err := r.toNut()
			if err != nil {
				return nil, err
			}
			cur.Nuts = append(cur.Nuts, n)
		}
	}
	if cur != nil {
		groups = append(groups, *cur)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("selection: undig_grouped: %w", err)
	}
	return groups, nil
}

type groupedRow struct {
	Path      string        `db:"path"`
	FileState int64         `db:"file_state"`
	Format    sql.NullString `db:"format"`
	MTime     sql.NullTime  `db:"mtime"`
	Size      sql.NullInt64 `db:"size"`

	FileSegment sql.NullInt64  `db:"file_segment"`
	FileElement sql.NullInt64  `db:"file_element"`
	Kind        sql.NullString `db:"kind"`
	Codes       sql.NullString `db:"codes"`

	TMinSeconds sql.NullInt64   `db:"tmin_seconds"`
	TMinOffset  sql.NullFloat64 `db:"tmin_offset"`
	TMaxSeconds sql.NullInt64   `db:"tmax_seconds"`
	TMaxOffset  sql.NullFloat64 `db:"tmax_offset"`
	Deltat      sql.NullFloat64 `db:"deltat"`
	Kscale      sql.NullInt64   `db:"kscale"`
}

func (r groupedRow) toNut() (model.Nut, error) {
	codes, err := model.ParseCodes(model.Kind(r.Kind.String), r.Codes.String)
	if err != nil {
		return model.Nut{}, fmt.Errorf("selection: decoding row: %w", err)
	}
	var deltat *float64
	if r.Deltat.Valid {
		v := r.Deltat.Float64
		deltat = &v
	}
	return model.FromRow(
		r.Path, r.Format.String, r.MTime.Time, r.Size.Int64,
		r.FileSegment.Int64, r.FileElement.Int64,
		model.Kind(r.Kind.String), codes,
		r.TMinSeconds.Int64, r.TMinOffset.Float64, r.TMaxSeconds.Int64, r.TMaxOffset.Float64,
		deltat, int(r.Kscale.Int64),
	), nil
}

// FlagUnchanged implements the two-pass revalidation of spec.md §4.5.
// First, every file whose stored mtime is NULL and whose state is not
// 1 is marked state 0 ("known to be absent, do nothing"); a file added
// in state 1 that has never been read stays pending, so the ingest
// pipeline reads it. Then, if check is set, every
// file with a non-zero state is asked for its current (mtime, size)
// through the backend registry; a match resets it to state 0, a
// FileLoadError also resets it to 0, and an unrecognized format is
// skipped silently.
func (s *Selection) FlagUnchanged(ctx context.Context, check bool, registry *backend.Registry) error {
	var absent []int64
	q := fmt.Sprintf(`
		SELECT state.file_id FROM %s AS state
		JOIN files ON files.file_id = state.file_id
		WHERE files.mtime IS NULL AND state.file_state != ?`, s.stateTable)
	if err := s.idx.DB.SelectContext(ctx, &absent, q, StatePending); err != nil {
		return fmt.Errorf("selection: flag_unchanged: pass 1: %w", err)
	}
	if err := s.setState(ctx, absent, StateCurrent); err != nil {
		return err
	}
	if !check {
		return nil
	}

	type pending struct {
		FileID int64          `db:"file_id"`
		Path   string         `db:"path"`
		Format sql.NullString `db:"format"`
		MTime  sql.NullTime   `db:"mtime"`
		Size   sql.NullInt64  `db:"size"`
	}
	var rows []pending
	q = fmt.Sprintf(`
		SELECT state.file_id AS file_id, files.path AS path,
			files.format AS format, files.mtime AS mtime, files.size AS size
		FROM %s AS state
		JOIN files ON files.file_id = state.file_id
		WHERE state.file_state != 0`, s.stateTable)
	if err := s.idx.DB.SelectContext(ctx, &rows, q); err != nil {
		return fmt.Errorf("selection: flag_unchanged: pass 2: %w", err)
	}

	for _, r := range rows {
		b, ok := registry.Lookup(r.Format.String)
		if !ok {
			continue
		}
		stats, err := b.GetStats(r.Path)
		if err != nil {
			log.Warnf("selection: flag_unchanged: %s: %v", r.Path, err)
			if err := s.setState(ctx, []int64{r.FileID}, StateCurrent); err != nil {
				return err
			}
			continue
		}
		if sameStats(stats.MTime, stats.Size, r.MTime, r.Size) {
			if err := s.setState(ctx, []int64{r.FileID}, StateCurrent); err != nil {
				return err
			}
		}
	}
	return nil
}

func sameStats(mtime time.Time, size int64, storedMTime sql.NullTime, storedSize sql.NullInt64) bool {
	if !storedMTime.Valid || !storedSize.Valid {
		return false
	}
	return mtime.Equal(storedMTime.Time) && size == storedSize.Int64
}
