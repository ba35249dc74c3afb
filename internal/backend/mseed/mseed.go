// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mseed implements a minimal SEED/miniSEED fixed-header
// reader (spec.md §6). It decodes only what is needed to index
// waveform records — network/station/location/channel, sample rate
// and record start time — not full blockette parsing; a production
// reader would delegate to a real miniSEED library (see DESIGN.md).
package mseed

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/pyrocko/squirrel/internal/backend"
	"github.com/pyrocko/squirrel/internal/model"
)

const FormatTag = "mseed"

const fixedHeaderLen = 48

const defaultRecordLength = 4096

// Detect looks for a plausible SEED fixed header: a 6-byte ASCII
// sequence number followed by a data-header indicator of D, R, Q or
// M at offset 6.
func Detect(sniff []byte) string {
	if len(sniff) < fixedHeaderLen {
		return ""
	}
	for i := 0; i < 6; i++ {
		if sniff[i] != ' ' && (sniff[i] < '0' || sniff[i] > '9') {
			return ""
		}
	}
	switch sniff[6] {
	case 'D', 'R', 'Q', 'M':
	default:
		return ""
	}
	return FormatTag
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

type btime struct {
	year, doy           uint16
	hour, minute, second byte
	fract               uint16
}

func (t btime) toTime() time.Time {
	base := time.Date(int(t.year), 1, 1, 0, 0, 0, 0, time.UTC)
	base = base.AddDate(0, 0, int(t.doy)-1)
	return base.Add(
		time.Duration(t.hour)*time.Hour +
			time.Duration(t.minute)*time.Minute +
			time.Duration(t.second)*time.Second +
			time.Duration(t.fract)*100*time.Microsecond)
}

func parseBTime(b []byte) btime {
	return btime{
		year:   binary.BigEndian.Uint16(b[0:2]),
		doy:    binary.BigEndian.Uint16(b[2:4]),
		hour:   b[4],
		minute: b[5],
		second: b[6],
		fract:  binary.BigEndian.Uint16(b[8:10]),
	}
}

func sampleRate(factor, multiplier int16) float64 {
	rate := 1.0
	switch {
	case factor > 0 && multiplier > 0:
		rate = float64(factor) * float64(multiplier)
	case factor > 0 && multiplier < 0:
		rate = float64(factor) / -float64(multiplier)
	case factor < 0 && multiplier > 0:
		rate = float64(multiplier) / -float64(factor)
	case factor < 0 && multiplier < 0:
		rate = 1 / (float64(factor) * float64(multiplier))
	}
	if rate <= 0 {
		rate = 1.0
	}
	return rate
}

func trimFixed(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == ' ' {
		n--
	}
	return string(b[:n])
}

func (b *Backend) ILoad(format, path string, segment *int64, contentKinds []model.Kind, yield func(model.Nut) error) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &model.FileLoadError{Path: path, Err: err}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return &model.FileLoadError{Path: path, Err: err}
	}

	wantWaveform := false
	for _, k := range contentKinds {
		if k == model.Waveform {
			wantWaveform = true
		}
	}

	var elem int64
	recLen := defaultRecordLength
	for off := 0; off+fixedHeaderLen <= len(raw); off += recLen {
		if segment != nil && *segment != 0 {
			break
		}
		h := raw[off : off+fixedHeaderLen]
		if Detect(h) == "" {
			return &model.FileLoadError{Path: path, Err: fmt.Errorf("invalid miniSEED record at offset %d", off)}
		}

		station := trimFixed(h[8:13])
		location := trimFixed(h[13:15])
		channel := trimFixed(h[15:18])
		network := trimFixed(h[18:20])

		start := parseBTime(h[20:30])
		numSamples := binary.BigEndian.Uint16(h[30:32])
		factor := int16(binary.BigEndian.Uint16(h[32:34]))
		multiplier := int16(binary.BigEndian.Uint16(h[34:36]))
		rate := sampleRate(factor, multiplier)
		deltat := 1.0 / rate

		tmin := float64(start.toTime().Unix())
		tmax := tmin
		if numSamples > 0 {
			tmax = tmin + float64(numSamples-1)*deltat
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
			FileElement: elem,
			Kind:        model.Waveform,
			Codes:       model.Codes{agency, network, station, location, channel, ""},
			Deltat:      &deltat,
		})
		if err != nil {
			return &model.FileLoadError{Path: path, Err: err}
		}
		n.TMinSeconds, n.TMinOffset = model.TSplit(tmin)
		n.TMaxSeconds, n.TMaxOffset = model.TSplit(tmax)
		n.Kscale = model.TScaleToKscale(tmax - tmin)

		if wantWaveform {
			n.Content = struct {
				NumSamples int
				SampleRate float64
			}{int(numSamples), rate}
		}

		if err := yield(n); err != nil {
			return err
		}
		elem++
	}
	return nil
}
