// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package model

import "testing"

func TestCodesRoundtrip(t *testing.T) {
	c := Codes{"", "GE", "WLF", "", "BHZ", ""}
	s := c.String()
	back, err := ParseCodes(Waveform, s)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Equal(back) {
		t.Errorf("roundtrip mismatch: %v != %v", c, back)
	}
}

func TestParseCodesWrongLength(t *testing.T) {
	if _, err := ParseCodes(Station, "a\x00b"); err == nil {
		t.Fatal("expected error for wrong codes length")
	}
}

func TestNewComputesKscale(t *testing.T) {
	n, err := New(Nut{
		Kind:        Waveform,
		Codes:       Codes{"", "GE", "WLF", "", "BHZ", ""},
		TMinSeconds: 0,
		TMaxSeconds: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := TScaleToKscale(10)
	if n.Kscale != want {
		t.Errorf("Kscale = %d, want %d", n.Kscale, want)
	}
}

func TestNewRejectsBadInterval(t *testing.T) {
	_, err := New(Nut{
		Kind:        Event,
		Codes:       Codes{"quake1"},
		TMinSeconds: 10,
		TMaxSeconds: 5,
	})
	if err == nil {
		t.Fatal("expected error for tmax < tmin")
	}
}

func TestEqualIgnoresFileMetadataAndContent(t *testing.T) {
	base := Nut{
		FileSegment: 1, FileElement: 2,
		Kind: Station, Codes: Codes{"", "GE", "WLF", ""},
		TMinSeconds: 0, TMaxSeconds: 1,
	}
	a := base
	a.FilePath, a.FileFormat, a.FileSize = "/a", "textstation", 10
	a.Content = "payload-a"
	b := base
	b.FilePath, b.FileFormat, b.FileSize = "/b", "stationxml", 99
	b.Content = "payload-b"
	if !Equal(a, b) {
		t.Error("expected nuts to be equal despite differing file metadata/content")
	}

	c := base
	c.FileElement = 3
	if Equal(a, c) {
		t.Error("expected nuts with different file_element to differ")
	}
}

func TestNutsEqualAsMultiset(t *testing.T) {
	n1 := Nut{FileElement: 1, Kind: Event, Codes: Codes{"a"}}
	n2 := Nut{FileElement: 2, Kind: Event, Codes: Codes{"b"}}
	if !NutsEqual([]Nut{n1, n2}, []Nut{n2, n1}) {
		t.Error("expected order-independent equality")
	}
	if NutsEqual([]Nut{n1}, []Nut{n1, n2}) {
		t.Error("expected length mismatch to fail")
	}
}
