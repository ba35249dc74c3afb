// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package textstation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pyrocko/squirrel/internal/model"
)

const sample = `GE.WLF.00 50.1 12.3 450.0 0.0 Wolfsberg
CHA 0.0 0.0 1.0
CHN 90.0 0.0 1.0
CHZ 0.0 -90.0 2.0
not a valid line at all
GE.STU.  49.7 9.2 200.0 0.0
CHA 0.0 0.0 1.0
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stations.txt")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDetect(t *testing.T) {
	b := New()
	if got := b.Detect([]byte(sample)); got != FormatTag {
		t.Fatalf("Detect() = %q, want %q", got, FormatTag)
	}
	if got := b.Detect([]byte("hello world\nfoo bar\n")); got != "" {
		t.Fatalf("Detect() on non-match = %q, want empty", got)
	}
}

func TestILoadYieldsStationsAndChannels(t *testing.T) {
	path := writeSample(t)
	b := New()

	var nuts []model.Nut
	err := b.ILoad(FormatTag, path, nil, nil, func(n model.Nut) error {
		nuts = append(nuts, n)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// 2 stations + 3 channels for the first + 1 channel for the second.
	if len(nuts) != 6 {
		t.Fatalf("expected 6 nuts, got %d: %+v", len(nuts), nuts)
	}
	if nuts[0].Kind != model.Station || nuts[0].Codes[1] != "GE" || nuts[0].Codes[2] != "WLF" {
		t.Errorf("unexpected first station nut: %+v", nuts[0])
	}
	if nuts[1].Kind != model.Channel || nuts[1].Codes[4] != "CHA" {
		t.Errorf("unexpected first channel nut: %+v", nuts[1])
	}
	if nuts[4].Kind != model.Station || nuts[4].Codes[2] != "STU" {
		t.Errorf("unexpected second station nut: %+v", nuts[4])
	}
}

func TestILoadSkipsInvalidLines(t *testing.T) {
	path := writeSample(t)
	b := New()

	count := 0
	err := b.ILoad(FormatTag, path, nil, nil, func(n model.Nut) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if count != 6 {
		t.Fatalf("expected invalid line to be skipped without affecting nut count, got %d nuts", count)
	}
}

func TestParseStationLineRejectsBadLatLon(t *testing.T) {
	if _, ok := parseStationLine("GE.WLF.00 200.0 12.3 450.0 0.0"); ok {
		t.Fatal("expected out-of-range latitude to be rejected")
	}
	if _, ok := parseStationLine("GEWLF00 50.1 12.3 450.0 0.0"); ok {
		t.Fatal("expected non-dotted first token to be rejected")
	}
}

func TestParseChannelLineNonUnitGainStillParses(t *testing.T) {
	cl, ok := parseChannelLine("BHZ 0.0 -90.0 2.0")
	if !ok {
		t.Fatal("expected channel line to parse despite non-unit gain")
	}
	if cl.gain != 2.0 {
		t.Errorf("gain = %v, want 2.0", cl.gain)
	}
}
