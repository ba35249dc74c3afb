// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package mseed

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pyrocko/squirrel/internal/model"
)

func buildRecord(t *testing.T, station, location, channel, network string, year, doy int, hour, minute, second byte, numSamples uint16, factor, multiplier int16) []byte {
	t.Helper()
	rec := make([]byte, defaultRecordLength)
	copy(rec[0:6], []byte("000001"))
	rec[6] = 'D'
	rec[7] = ' '
	copy(rec[8:13], []byte(fmt.Sprintf("%-5s", station)))
	copy(rec[13:15], []byte(fmt.Sprintf("%-2s", location)))
	copy(rec[15:18], []byte(fmt.Sprintf("%-3s", channel)))
	copy(rec[18:20], []byte(fmt.Sprintf("%-2s", network)))
	binary.BigEndian.PutUint16(rec[20:22], uint16(year))
	binary.BigEndian.PutUint16(rec[22:24], uint16(doy))
	rec[24] = hour
	rec[25] = minute
	rec[26] = second
	binary.BigEndian.PutUint16(rec[30:32], numSamples)
	binary.BigEndian.PutUint16(rec[32:34], uint16(factor))
	binary.BigEndian.PutUint16(rec[34:36], uint16(multiplier))
	return rec
}

func TestDetect(t *testing.T) {
	rec := buildRecord(t, "WLF", "00", "BHZ", "GE", 2020, 1, 0, 0, 0, 100, 20, 1)
	if got := Detect(rec); got != FormatTag {
		t.Fatalf("Detect() = %q, want %q", got, FormatTag)
	}
	if got := Detect([]byte("not a miniseed record at all............")); got != "" {
		t.Fatalf("Detect() on garbage = %q, want empty", got)
	}
}

func TestILoadYieldsWaveformNut(t *testing.T) {
	rec := buildRecord(t, "WLF", "00", "BHZ", "GE", 2020, 1, 0, 0, 0, 100, 20, 1)
	dir := t.TempDir()
	path := filepath.Join(dir, "test.mseed")
	if err := os.WriteFile(path, rec, 0o644); err != nil {
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
	if n.Kind != model.Waveform || n.Codes[1] != "GE" || n.Codes[2] != "WLF" || n.Codes[4] != "BHZ" {
		t.Errorf("unexpected codes: %+v", n.Codes)
	}
	if n.Deltat == nil || *n.Deltat != 0.05 {
		t.Errorf("deltat = %v, want 0.05", n.Deltat)
	}
	if n.Content == nil {
		t.Error("expected waveform content to be attached")
	}
}

func TestILoadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.mseed")
	if err := os.WriteFile(path, []byte("this is definitely not a valid miniSEED record, it is way too short and wrong"), 0o644); err != nil {
		t.Fatal(err)
	}
	b := New()
	err := b.ILoad(FormatTag, path, nil, nil, func(model.Nut) error { return nil })
	if err == nil {
		t.Fatal("expected error for invalid record")
	}
}
