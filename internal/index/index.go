// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package index implements the durable meta-information store of
// spec.md §3/§4.1: files, the kind-codes dictionary, its population
// count, and the nuts that reference them, with triggers that keep
// counts and cascaded deletes consistent.
package index

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	sqlite3driver "github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/pyrocko/squirrel/pkg/log"
)

//go:embed migrations/*
var migrationFiles embed.FS

var registerDriverOnce sync.Once

const driverName = "sqlite3_index_hooked"

// Index is one open handle onto the meta-information store described
// in spec.md §3/§4.1.
type Index struct {
	DB   *sqlx.DB
	path string

	mu sync.Mutex
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Index{}
)

// Open returns the Index for the given database path, opening and
// migrating it on first use. Repeated opens of the same absolute
// path share one handle (spec.md §5, "same path → same handle");
// ":memory:" is never shared and always opens a fresh handle.
func Open(path string) (*Index, error) {
	if path == ":memory:" {
		return open(path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("index: resolving path %q: %w", path, err)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if idx, ok := registry[abs]; ok {
		return idx, nil
	}

	idx, err := open(abs)
	if err != nil {
		return nil, err
	}
	registry[abs] = idx
	return idx, nil
}

func open(path string) (*Index, error) {
	registerDriverOnce.Do(func() {
		sql.Register(driverName, sqlhooks.Wrap(&sqlite3driver.SQLiteDriver{}, &Hooks{}))
	})

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_recursive_triggers=on", path)
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("index: opening %q: %w", path, err)
	}

	// A single sqlite connection is the only sane choice: sqlite
	// serializes writers anyway, and the spec requires "same path ->
	// same handle" sharing across concurrent callers.
	db.SetMaxOpenConns(1)

	if err := migrateUp(path, db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return &Index{DB: db, path: path}, nil
}

func migrateUp(path string, db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("index: migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("index: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("index: migration setup: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("index: migrating %q: %w", path, err)
	}
	log.Debugf("index: %s migrated", path)
	return nil
}

// Close closes the underlying handle and removes it from the
// process-wide registry.
func (idx *Index) Close() error {
	if idx.path != ":memory:" {
		registryMu.Lock()
		delete(registry, idx.path)
		registryMu.Unlock()
	}
	return idx.DB.Close()
}

// Commit is a no-op placeholder for the spec's deferred-write model:
// every write in this implementation goes through database/sql
// autocommit or an explicit *sqlx.Tx, so there is no separate pending
// queue to flush. It exists so callers following the spec's
// dig/commit rhythm have something to call.
func (idx *Index) Commit(ctx context.Context) error {
	return nil
}
