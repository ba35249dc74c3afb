// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package ingest

import (
	"context"
	"testing"

	"github.com/pyrocko/squirrel/internal/backend"
	"github.com/pyrocko/squirrel/internal/backend/virtual"
	"github.com/pyrocko/squirrel/internal/index"
	"github.com/pyrocko/squirrel/internal/model"
)

func newTestRegistry() (*backend.Registry, *virtual.Backend) {
	r := backend.NewRegistry()
	v := virtual.New()
	r.Register(v)
	return r, v
}

func putStation(t *testing.T, v *virtual.Backend, path string) {
	t.Helper()
	n := model.Nut{
		FilePath:    path,
		FileElement: 0,
		Kind:        model.Station,
		Codes:       model.Codes{"", "GE", "WLF", ""},
	}
	n, err := model.New(n)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Put(n, nil); err != nil {
		t.Fatal(err)
	}
}

func TestLoadPathsPersistsNutsToIndex(t *testing.T) {
	ctx := context.Background()
	idx, err := index.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	registry, v := newTestRegistry()
	putStation(t, v, "virtual:a")

	var yielded []model.Nut
	err = LoadPaths(ctx, []string{"virtual:a"}, idx, registry, Options{Commit: true}, func(n model.Nut) error {
		yielded = append(yielded, n)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(yielded) != 1 {
		t.Fatalf("expected 1 yielded nut, got %d", len(yielded))
	}

	stored, err := idx.Undig(ctx, "virtual:a")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored nut, got %d", len(stored))
	}
}

func TestLoadPathsIdempotentOnReAdd(t *testing.T) {
	ctx := context.Background()
	idx, err := index.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	registry, v := newTestRegistry()
	putStation(t, v, "virtual:a")

	noop := func(model.Nut) error { return nil }
	if err := LoadPaths(ctx, []string{"virtual:a"}, idx, registry, Options{Commit: true}, noop); err != nil {
		t.Fatal(err)
	}
	if err := LoadPaths(ctx, []string{"virtual:a"}, idx, registry, Options{Commit: true, Check: true, SkipUnchanged: true}, noop); err != nil {
		t.Fatal(err)
	}

	stored, err := idx.Undig(ctx, "virtual:a")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected nuts to stay at 1 after idempotent re-add, got %d", len(stored))
	}
}

func TestLoadPathsHandlesMissingFileAsRecoverable(t *testing.T) {
	ctx := context.Background()
	idx, err := index.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	registry, _ := newTestRegistry()

	err = LoadPaths(ctx, []string{"virtual:missing"}, idx, registry, Options{}, func(model.Nut) error { return nil })
	if err != nil {
		t.Fatalf("expected FileLoadError to be handled without propagating, got %v", err)
	}

	stored, err := idx.Undig(ctx, "virtual:missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 0 {
		t.Fatalf("expected no nuts for missing file, got %d", len(stored))
	}
}

func TestLoadPathsSkipUnchangedRevalidatesAgainstBackend(t *testing.T) {
	ctx := context.Background()
	idx, err := index.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	registry, v := newTestRegistry()
	putStation(t, v, "virtual:a")

	noop := func(model.Nut) error { return nil }
	if err := LoadPaths(ctx, []string{"virtual:a"}, idx, registry, Options{Commit: true}, noop); err != nil {
		t.Fatal(err)
	}

	v.Touch("virtual:a")

	var seen int
	err = LoadPaths(ctx, []string{"virtual:a"}, idx, registry, Options{Commit: true, Check: true, SkipUnchanged: true}, func(model.Nut) error {
		seen++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != 1 {
		t.Fatalf("expected touched file to be re-read once, got %d yields", seen)
	}
}
