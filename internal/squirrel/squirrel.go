// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package squirrel implements the query layer of spec.md §4.6: a
// Selection extended with its own nut projection and per-selection
// kind-codes population count, giving O(1) aggregate accessors and
// the bucketed interval query of §4.7.
package squirrel

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/pyrocko/squirrel/internal/backend"
	"github.com/pyrocko/squirrel/internal/index"
	"github.com/pyrocko/squirrel/internal/ingest"
	"github.com/pyrocko/squirrel/internal/model"
	"github.com/pyrocko/squirrel/internal/selection"
)

// Source is the remote channel-inventory fetcher interface of
// spec.md §6. Squirrel holds the sources it is given; sources hold no
// back-reference to the Squirrel that owns them (spec.md §9, "cyclic
// references").
type Source interface {
	UpdateChannelInventory(sel *selection.Selection) error
	GetChannelFilePaths(sel *selection.Selection) ([]string, error)
}

// Squirrel is a selection plus its own nut projection and count
// roll-up (spec.md §4.6).
type Squirrel struct {
	*selection.Selection

	registry *backend.Registry

	nutsTable  string
	countTable string

	stmtCache *sq.StmtCache

	sources []Source
}

// New creates a transient Squirrel layered on idx.
func New(ctx context.Context, idx *index.Index, registry *backend.Registry) (*Squirrel, error) {
	sel, err := selection.NewTransient(ctx, idx)
	if err != nil {
		return nil, err
	}
	return newSquirrel(ctx, sel, idx, registry)
}

// NewPersistent creates (or reopens) a named, durable Squirrel, under
// the same constraints as selection.NewPersistent.
func NewPersistent(ctx context.Context, idx, defaultIdx *index.Index, name string, registry *backend.Registry) (*Squirrel, error) {
	sel, err := selection.NewPersistent(ctx, idx, defaultIdx, name)
	if err != nil {
		return nil, err
	}
	return newSquirrel(ctx, sel, idx, registry)
}

func newSquirrel(ctx context.Context, sel *selection.Selection, idx *index.Index, registry *backend.Registry) (*Squirrel, error) {
	base := sel.StateTable()
	squir := &Squirrel{
		Selection:  sel,
		registry:   registry,
		nutsTable:  base + "_nuts",
		countTable: base + "_count",
		stmtCache:  sq.NewStmtCache(idx.DB.DB),
	}
	if err := squir.createProjectionTables(ctx); err != nil {
		return nil, err
	}
	return squir, nil
}

// AddSources registers remote channel-inventory fetchers a caller may
// want Add to pull from before reading local paths. The seam is real;
// no concrete fetcher ships in this repository (out of scope, spec.md
// §1).
func (s *Squirrel) AddSources(sources []Source) {
	s.sources = append(s.sources, sources...)
}

func (s *Squirrel) createProjectionTables(ctx context.Context) error {
	db := s.GetDatabase().DB

	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			nut_id INTEGER PRIMARY KEY,
			file_id INTEGER NOT NULL,
			file_segment INTEGER NOT NULL,
			file_element INTEGER NOT NULL,
			kind_codes_id INTEGER NOT NULL,
			tmin_seconds INTEGER NOT NULL,
			tmin_offset REAL NOT NULL,
			tmax_seconds INTEGER NOT NULL,
			tmax_offset REAL NOT NULL,
			deltat REAL,
			kscale INTEGER NOT NULL
		)`, s.nutsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_kscale_tmin ON %s(kscale, tmin_seconds)`, s.nutsTable, s.nutsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			kind_codes_id INTEGER PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0
		)`, s.countTable),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_ai AFTER INSERT ON %s BEGIN
			INSERT OR IGNORE INTO %s(kind_codes_id, count) VALUES (NEW.kind_codes_id, 0);
			UPDATE %s SET count = count + 1 WHERE kind_codes_id = NEW.kind_codes_id;
		END`, s.nutsTable, s.nutsTable, s.countTable, s.countTable),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_ad AFTER DELETE ON %s BEGIN
			UPDATE %s SET count = count - 1 WHERE kind_codes_id = OLD.kind_codes_id;
		END`, s.nutsTable, s.nutsTable, s.countTable),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_cascade AFTER DELETE ON %s BEGIN
			DELETE FROM %s WHERE file_id = OLD.file_id;
		END`, s.StateTable(), s.StateTable(), s.nutsTable),
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("squirrel: creating projection tables: %w", err)
		}
	}
	return nil
}

// Close drops the projection tables alongside a transient selection's
// state table; a persistent Squirrel's tables survive, like its
// Selection's.
func (s *Squirrel) Close(ctx context.Context) error {
	if !s.IsPersistent() {
		db := s.GetDatabase().DB
		for _, table := range []string{s.nutsTable, s.countTable} {
			if _, err := db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
				return fmt.Errorf("squirrel: dropping %q: %w", table, err)
			}
		}
	}
	return s.Selection.Close(ctx)
}

// Add registers paths pending state, drives the ingest pipeline to
// make sure they're current, then projects their nuts into this
// Squirrel (spec.md §4.6).
func (s *Squirrel) Add(ctx context.Context, paths []string, kinds []model.Kind, format string, check bool) error {
	for _, src := range s.sources {
		if err := src.UpdateChannelInventory(s.Selection); err != nil {
			return err
		}
		extra, err := src.GetChannelFilePaths(s.Selection)
		if err != nil {
			return err
		}
		paths = append(paths, extra...)
	}

	if err := s.Selection.Add(ctx, paths, selection.StatePending); err != nil {
		return err
	}

	opts := ingest.Options{
		Format:        format,
		Check:         check,
		SkipUnchanged: true,
		Commit:        true,
	}
	if err := ingest.Load(ctx, s.Selection, s.GetDatabase(), s.registry, opts, func(model.Nut) error { return nil }); err != nil {
		return err
	}

	return s.updateNuts(ctx, kinds)
}

// updateNuts is _update_nuts of spec.md §4.6: copy rows from the
// global nuts table into this Squirrel's own projection for every
// file in the selection whose state is not yet 2, then mark those
// files state 2. Idempotent: a second call with the same kinds adds
// nothing, since nut_id is the projection's primary key and files
// already at state 2 are excluded from the copy.
func (s *Squirrel) updateNuts(ctx context.Context, kinds []model.Kind) error {
	db := s.GetDatabase().DB

	var fileIDs []int64
	q := fmt.Sprintf(`SELECT file_id FROM %s WHERE file_state != ?`, s.StateTable())
	if err := db.SelectContext(ctx, &fileIDs, q, selection.StateIndexed); err != nil {
		return fmt.Errorf("squirrel: update_nuts: listing pending files: %w", err)
	}
	if len(fileIDs) == 0 {
		return nil
	}

	builder := sq.Select(
		"nuts.nut_id", "nuts.file_id", "nuts.file_segment", "nuts.file_element", "nuts.kind_codes_id",
		"nuts.tmin_seconds", "nuts.tmin_offset", "nuts.tmax_seconds", "nuts.tmax_offset",
		"nuts.deltat", "nuts.kscale",
	).From("nuts").Where(sq.Eq{"nuts.file_id": fileIDs})
	if len(kinds) > 0 {
		builder = builder.Join("kind_codes ON kind_codes.kind_codes_id = nuts.kind_codes_id").
			Where(sq.Eq{"kind_codes.kind": kinds})
	}
	selectQuery, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("squirrel: update_nuts: building select: %w", err)
	}

	insert := fmt.Sprintf(`INSERT OR IGNORE INTO %s (
		nut_id, file_id, file_segment, file_element, kind_codes_id,
		tmin_seconds, tmin_offset, tmax_seconds, tmax_offset, deltat, kscale
	) %s`, s.nutsTable, selectQuery)
	if _, err := db.ExecContext(ctx, insert, args...); err != nil {
		return fmt.Errorf("squirrel: update_nuts: copying nuts: %w", err)
	}

	update := fmt.Sprintf(`UPDATE %s SET file_state = ? WHERE file_state != ?`, s.StateTable())
	if _, err := db.ExecContext(ctx, update, selection.StateIndexed, selection.StateIndexed); err != nil {
		return fmt.Errorf("squirrel: update_nuts: marking indexed: %w", err)
	}
	return nil
}
