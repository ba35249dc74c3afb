// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package datacube implements a reader for DigiCourier/DATA-CUBE raw
// acquisition files (spec.md §6). The full DATA-CUBE block format is
// proprietary and not available in this repository's reference
// corpus (see DESIGN.md); this backend reads the simplified fixed
// header that carries everything the index needs — magic, codes,
// start time and sample rate — and treats the remainder of the file
// as opaque sample data.
package datacube

import (
	"encoding/binary"
	"math"
	"os"
	"strings"
	"time"

	"github.com/pyrocko/squirrel/internal/backend"
	"github.com/pyrocko/squirrel/internal/model"
)

const FormatTag = "datacube"

const magic = "DCUBE1"

const headerLen = 64

func Detect(sniff []byte) string {
	if len(sniff) >= len(magic) && string(sniff[:len(magic)]) == magic {
		return FormatTag
	}
	return ""
}

type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) ProvidedFormats() []string { return []string{FormatTag} }

func (b *Backend) Detect(sniff []byte) string { return Detect(sniff) }

func (b *Backend) GetStats(path string) (backend.Stats, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return backend.Stats{}, &model.FileLoadError{Path: path, Err: err}
	}
	return backend.Stats{MTime: fi.ModTime(), Size: fi.Size()}, nil
}

// header layout, big-endian, following the 6-byte magic:
//
//	[6:14]   station   (8 bytes, space padded)
//	[14:16]  network   (2 bytes, space padded)
//	[16:18]  channel   (2 bytes, space padded, numeric gain-ranged
//	                    component such as "Z1" in real DATA-CUBE files)
//	[18:26]  unix start time, seconds (int64)
//	[26:34]  sample rate, Hz (float64)
//	[34:38]  sample count (uint32)
func parseHeader(raw []byte) (station, network, channel string, start time.Time, rate float64, npts uint32, ok bool) {
	if len(raw) < headerLen || string(raw[:len(magic)]) != magic {
		return
	}
	station = strings.TrimSpace(string(raw[6:14]))
	network = strings.TrimSpace(string(raw[14:16]))
	channel = strings.TrimSpace(string(raw[16:18]))
	startUnix := int64(binary.BigEndian.Uint64(raw[18:26]))
	rate = math.Float64frombits(binary.BigEndian.Uint64(raw[26:34]))
	npts = binary.BigEndian.Uint32(raw[34:38])
	start = time.Unix(startUnix, 0).UTC()
	ok = true
	return
}

func (b *Backend) ILoad(format, path string, segment *int64, contentKinds []model.Kind, yield func(model.Nut) error) error {
	if segment != nil && *segment != 0 {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return &model.FileLoadError{Path: path, Err: err}
	}
	station, network, channel, start, rate, npts, ok := parseHeader(raw)
	if !ok {
		return &model.FileLoadError{Path: path, Err: errNotDataCube(path)}
	}
	if rate <= 0 {
		rate = 1
	}
	deltat := 1 / rate

	fi, err := os.Stat(path)
	if err != nil {
		return &model.FileLoadError{Path: path, Err: err}
	}

	tmin := float64(start.Unix())
	tmax := tmin
	if npts > 0 {
		tmax = tmin + float64(npts-1)*deltat
	}

	agency := ""
	if network != "" {
		agency = "FDSN"
	}

	n, err := model.New(model.Nut{
		FilePath:    path,
		FileFormat:  FormatTag,
		FileMTime:   fi.ModTime(),
		FileSize:    fi.Size(),
		FileSegment: 0,
		FileElement: 0,
		Kind:        model.Waveform,
		Codes:       model.Codes{agency, network, station, "", channel, ""},
		Deltat:      &deltat,
	})
	if err != nil {
		return &model.FileLoadError{Path: path, Err: err}
	}
	n.TMinSeconds, n.TMinOffset = model.TSplit(tmin)
	n.TMaxSeconds, n.TMaxOffset = model.TSplit(tmax)
	n.Kscale = model.TScaleToKscale(tmax - tmin)

	for _, k := range contentKinds {
		if k == model.Waveform {
			n.Content = struct{ NumSamples int }{int(npts)}
		}
	}

	return yield(n)
}

type errNotDataCube string

func (e errNotDataCube) Error() string { return "not a DATA-CUBE file: " + string(e) }
