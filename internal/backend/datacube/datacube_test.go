// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package datacube

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pyrocko/squirrel/internal/model"
)

func buildFile(t *testing.T, station, network, channel string, start int64, rate float64, npts uint32) []byte {
	t.Helper()
	raw := make([]byte, headerLen)
	copy(raw[0:6], []byte(magic))
	copy(raw[6:14], []byte(fmt.Sprintf("%-8s", station)))
	copy(raw[14:16], []byte(network))
	copy(raw[16:18], []byte(channel))
	binary.BigEndian.PutUint64(raw[18:26], uint64(start))
	binary.BigEndian.PutUint64(raw[26:34], math.Float64bits(rate))
	binary.BigEndian.PutUint32(raw[34:38], npts)
	return raw
}

func TestDetect(t *testing.T) {
	raw := buildFile(t, "WLF", "GE", "Z1", 1577836800, 100, 1000)
	if got := Detect(raw); got != FormatTag {
		t.Fatalf("Detect() = %q, want %q", got, FormatTag)
	}
	if got := Detect([]byte("not a datacube file")); got != "" {
		t.Fatalf("Detect() on garbage = %q, want empty", got)
	}
}

func TestILoadYieldsWaveformNut(t *testing.T) {
	raw := buildFile(t, "WLF", "GE", "Z1", 1577836800, 100, 1000)
	dir := t.TempDir()
	path := filepath.Join(dir, "test.cube")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	b := New()
	var nuts []model.Nut
	err := b.ILoad(FormatTag, path, nil, []model.Kind{model.Waveform}, func(n model.Nut) error {
		nuts = append(nuts, n)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(nuts) != 1 {
		t.Fatalf("expected 1 nut, got %d", len(nuts))
	}
	n := nuts[0]
	if len(n.Codes) != model.Waveform.NumCodes() {
		t.Fatalf("codes has %d components, want %d: %+v", len(n.Codes), model.Waveform.NumCodes(), n.Codes)
	}
	if n.Codes[1] != "GE" || n.Codes[2] != "WLF" || n.Codes[4] != "Z1" {
		t.Errorf("unexpected codes: %+v", n.Codes)
	}
	if n.Deltat == nil || *n.Deltat != 0.01 {
		t.Errorf("deltat = %v, want 0.01", n.Deltat)
	}
}

func TestILoadRejectsNonDataCube(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.cube")
	if err := os.WriteFile(path, []byte("not a datacube file at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	b := New()
	err := b.ILoad(FormatTag, path, nil, nil, func(model.Nut) error { return nil })
	if err == nil {
		t.Fatal("expected error for non-DATA-CUBE file")
	}
}
