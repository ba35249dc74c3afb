// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package squirrel

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/pyrocko/squirrel/internal/backend"
	"github.com/pyrocko/squirrel/internal/backend/virtual"
	"github.com/pyrocko/squirrel/internal/index"
	"github.com/pyrocko/squirrel/internal/model"
)

func newTestSquirrel(t *testing.T) (*Squirrel, *virtual.Backend) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.sqlite")
	idx, err := index.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })

	registry := backend.NewRegistry()
	v := virtual.New()
	registry.Register(v)

	sq, err := New(ctx, idx, registry)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sq.Close(ctx) })
	return sq, v
}

func putWaveform(t *testing.T, v *virtual.Backend, path string, segment int64, tmin, tmax int64, station string) {
	t.Helper()
	n, err := model.New(model.Nut{
		FilePath:    path,
		FileSegment: segment,
		Kind:        model.Waveform,
		Codes:       model.Codes{"", "GE", station, "", "BHZ", ""},
		TMinSeconds: tmin,
		TMaxSeconds: tmax,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Put(n, nil); err != nil {
		t.Fatal(err)
	}
}

func TestAddProjectsNutsAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sq, v := newTestSquirrel(t)

	putWaveform(t, v, "virtual:a", 0, 0, 10, "STA1")
	putWaveform(t, v, "virtual:b", 0, 100, 110, "STA2")

	if err := sq.Add(ctx, []string{"virtual:a", "virtual:b"}, nil, "", true); err != nil {
		t.Fatal(err)
	}

	n, err := sq.GetNnuts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 nuts after first add, got %d", n)
	}

	if err := sq.Add(ctx, []string{"virtual:a", "virtual:b"}, nil, "", true); err != nil {
		t.Fatal(err)
	}
	n, err = sq.GetNnuts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected add to stay idempotent, got %d nuts", n)
	}

	nfiles, err := sq.GetNfiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if nfiles != 2 {
		t.Fatalf("expected 2 files, got %d", nfiles)
	}
}

func TestUndigSpanMatchesNaiveOnHandBuiltNuts(t *testing.T) {
	ctx := context.Background()
	sq, v := newTestSquirrel(t)

	var paths []string
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 40; i++ {
		path := filepath.Join("virtual:file", string(rune('a'+i)))
		tmin := int64(r.Intn(1_000_000))
		dur := int64(1)
		switch r.Intn(4) {
		case 0:
			dur = int64(r.Intn(10) + 1)
		case 1:
			dur = int64(r.Intn(1000) + 1)
		case 2:
			dur = int64(r.Intn(100_000) + 1)
		case 3:
			dur = int64(r.Intn(10_000_000) + 1)
		}
		putWaveform(t, v, path, 0, tmin, tmin+dur, "STA")
		paths = append(paths, path)
	}
	if err := sq.Add(ctx, paths, nil, "", true); err != nil {
		t.Fatal(err)
	}

	windows := [][2]float64{
		{0, 1_000_000},
		{100_000, 200_000},
		{500_000, 500_100},
		{0, 1},
	}
	for _, w := range windows {
		bucketed, err := sq.UndigSpan(ctx, w[0], w[1])
		if err != nil {
			t.Fatal(err)
		}
		naive, err := sq.UndigSpanNaive(ctx, w[0], w[1])
		if err != nil {
			t.Fatal(err)
		}
		if !model.NutsEqual(bucketed, naive) {
			t.Fatalf("window %v: bucketed (%d) != naive (%d)", w, len(bucketed), len(naive))
		}
	}
}

func TestUndigSpanHalfOpenTieBreak(t *testing.T) {
	ctx := context.Background()
	sq, v := newTestSquirrel(t)

	putWaveform(t, v, "virtual:edge", 0, 0, 10, "STA")
	if err := sq.Add(ctx, []string{"virtual:edge"}, nil, "", true); err != nil {
		t.Fatal(err)
	}

	// Nut spans [0, 10). A query window starting exactly at 10 must not
	// match; one ending exactly at 0 must not match either.
	nuts, err := sq.UndigSpan(ctx, 10, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(nuts) != 0 {
		t.Fatalf("expected no match for window starting at nut's tmax, got %d", len(nuts))
	}

	nuts, err = sq.UndigSpan(ctx, -10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(nuts) != 0 {
		t.Fatalf("expected no match for window ending at nut's tmin, got %d", len(nuts))
	}

	nuts, err = sq.UndigSpan(ctx, 9, 11)
	if err != nil {
		t.Fatal(err)
	}
	if len(nuts) != 1 {
		t.Fatalf("expected overlapping window to match, got %d", len(nuts))
	}
}

func TestIterCodesKindsCounts(t *testing.T) {
	ctx := context.Background()
	sq, v := newTestSquirrel(t)

	putWaveform(t, v, "virtual:a", 0, 0, 10, "STA1")
	putWaveform(t, v, "virtual:a", 1, 10, 20, "STA1")
	putWaveform(t, v, "virtual:b", 0, 0, 10, "STA2")
	if err := sq.Add(ctx, []string{"virtual:a", "virtual:b"}, nil, "", true); err != nil {
		t.Fatal(err)
	}

	codes, err := sq.IterCodes(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(codes) != 2 {
		t.Fatalf("expected 2 distinct codes tuples, got %d", len(codes))
	}

	kinds, err := sq.IterKinds(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(kinds) != 1 || kinds[0] != model.Waveform {
		t.Fatalf("expected [waveform], got %v", kinds)
	}

	counts, err := sq.IterCounts(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, c := range counts {
		total += c
	}
	if total != 3 {
		t.Fatalf("expected total count 3, got %d", total)
	}
}

func TestRemoveCascadesProjection(t *testing.T) {
	ctx := context.Background()
	sq, v := newTestSquirrel(t)

	putWaveform(t, v, "virtual:a", 0, 0, 10, "STA1")
	if err := sq.Add(ctx, []string{"virtual:a"}, nil, "", true); err != nil {
		t.Fatal(err)
	}
	n, err := sq.GetNnuts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 nut, got %d", n)
	}

	if err := sq.Remove(ctx, []string{"virtual:a"}); err != nil {
		t.Fatal(err)
	}
	n, err = sq.GetNnuts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected projection to be cleared after remove, got %d nuts", n)
	}
}
