// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package virtual

import (
	"errors"
	"testing"

	"github.com/pyrocko/squirrel/internal/model"
)

func TestPutDuplicateKeyRejected(t *testing.T) {
	b := New()
	n := model.Nut{FilePath: "virtual:test", FileSegment: 0, FileElement: 0, Kind: model.Event, Codes: model.Codes{"q1"}}
	if err := b.Put(n, nil); err != nil {
		t.Fatal(err)
	}
	err := b.Put(n, nil)
	var uke *model.UniqueKeyRequired
	if !errors.As(err, &uke) {
		t.Fatalf("expected UniqueKeyRequired, got %v", err)
	}
}

func TestILoadAttachesContentForRequestedKinds(t *testing.T) {
	b := New()
	n := model.Nut{FilePath: "virtual:test", FileElement: 1, Kind: model.Waveform, Codes: model.Codes{"", "GE", "WLF", "", "BHZ", ""}}
	if err := b.Put(n, []float64{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	var got []model.Nut
	err := b.ILoad(FormatTag, "virtual:test", nil, []model.Kind{model.Waveform}, func(nut model.Nut) error {
		got = append(got, nut)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content == nil {
		t.Fatalf("expected one nut with content, got %+v", got)
	}

	got = nil
	err = b.ILoad(FormatTag, "virtual:test", nil, nil, func(nut model.Nut) error {
		got = append(got, nut)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Content != nil {
		t.Fatal("expected no content when kind not requested")
	}
}

func TestILoadUnknownPath(t *testing.T) {
	b := New()
	err := b.ILoad(FormatTag, "virtual:missing", nil, nil, func(model.Nut) error { return nil })
	var fle *model.FileLoadError
	if !errors.As(err, &fle) {
		t.Fatalf("expected FileLoadError, got %v", err)
	}
}

func TestHasPrefix(t *testing.T) {
	if !HasPrefix("virtual:foo") {
		t.Error("expected virtual:foo to have prefix")
	}
	if HasPrefix("/tmp/foo") {
		t.Error("expected /tmp/foo to not have prefix")
	}
}
