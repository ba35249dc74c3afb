// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package model

import (
	"fmt"
	"time"
)

// Nut is a single indexable item exposed by a file: a waveform span,
// a station or channel record, an event, or a response. It is a
// value type, not a database row — rows crossing the index-store
// boundary are decoded into Nut before anything else touches them.
type Nut struct {
	FilePath   string
	FileFormat string
	FileMTime  time.Time
	FileSize   int64

	FileSegment int64
	FileElement int64

	Kind  Kind
	Codes Codes

	TMinSeconds int64
	TMinOffset  float64
	TMaxSeconds int64
	TMaxOffset  float64

	Deltat *float64

	Kscale int

	// Content holds a decoded payload when the backend was asked to
	// materialize one for this nut's kind; nil for index-only nuts.
	Content any
}

// New validates the identifying fields of a nut and derives Kscale
// from the time interval. Use this when constructing a nut from a
// freshly-read file; use FromRow when trusting an index-store row.
func New(n Nut) (Nut, error) {
	if !n.Kind.Valid() {
		return Nut{}, fmt.Errorf("model: invalid kind %q", n.Kind)
	}
	if num := n.Kind.NumCodes(); num > 0 && len(n.Codes) != num {
		return Nut{}, fmt.Errorf("model: kind %s expects %d codes, got %d", n.Kind, num, len(n.Codes))
	}
	tmin := TJoin(n.TMinSeconds, n.TMinOffset, n.Deltat)
	tmax := TJoin(n.TMaxSeconds, n.TMaxOffset, n.Deltat)
	if tmax < tmin {
		return Nut{}, fmt.Errorf("model: tmax (%v) precedes tmin (%v)", tmax, tmin)
	}
	n.Kscale = TScaleToKscale(float64(n.TMaxSeconds - n.TMinSeconds))
	return n, nil
}

// FromRow constructs a Nut from already-validated index-store column
// values without re-checking invariants. It is the internal
// equivalent of the source's "values_nocheck" constructor — callers
// must supply columns in the canonical order the index schema uses.
func FromRow(
	filePath, fileFormat string, fileMTime time.Time, fileSize int64,
	fileSegment, fileElement int64,
	kind Kind, codes Codes,
	tminSeconds int64, tminOffset float64,
	tmaxSeconds int64, tmaxOffset float64,
	deltat *float64, kscale int,
) Nut {
	return Nut{
		FilePath:    filePath,
		FileFormat:  fileFormat,
		FileMTime:   fileMTime,
		FileSize:    fileSize,
		FileSegment: fileSegment,
		FileElement: fileElement,
		Kind:        kind,
		Codes:       codes,
		TMinSeconds: tminSeconds,
		TMinOffset:  tminOffset,
		TMaxSeconds: tmaxSeconds,
		TMaxOffset:  tmaxOffset,
		Deltat:      deltat,
		Kscale:      kscale,
	}
}

// TMin returns the reconstituted start time.
func (n Nut) TMin() float64 { return TJoin(n.TMinSeconds, n.TMinOffset, n.Deltat) }

// TMax returns the reconstituted end time.
func (n Nut) TMax() float64 { return TJoin(n.TMaxSeconds, n.TMaxOffset, n.Deltat) }

// Equal implements the nut-equality rule of spec.md §4.3: two nuts
// are equal if they describe the same logical item at the same
// position, regardless of where the file currently lives and
// regardless of any attached payload.
func Equal(a, b Nut) bool {
	if a.FileSegment != b.FileSegment || a.FileElement != b.FileElement {
		return false
	}
	if a.Kind != b.Kind || !a.Codes.Equal(b.Codes) {
		return false
	}
	if a.TMinSeconds != b.TMinSeconds || a.TMinOffset != b.TMinOffset {
		return false
	}
	if a.TMaxSeconds != b.TMaxSeconds || a.TMaxOffset != b.TMaxOffset {
		return false
	}
	if (a.Deltat == nil) != (b.Deltat == nil) {
		return false
	}
	if a.Deltat != nil && *a.Deltat != *b.Deltat {
		return false
	}
	return a.Kscale == b.Kscale
}

// NutsEqual reports whether two slices of nuts are equal as
// multisets under Equal.
func NutsEqual(as, bs []Nut) bool {
	if len(as) != len(bs) {
		return false
	}
	used := make([]bool, len(bs))
outer:
	for _, a := range as {
		for j, b := range bs {
			if used[j] {
				continue
			}
			if Equal(a, b) {
				used[j] = true
				continue outer
			}
		}
		return false
	}
	return true
}
