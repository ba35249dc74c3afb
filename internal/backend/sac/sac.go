// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sac implements a minimal SAC (Seismic Analysis Code)
// binary header reader (spec.md §6): one waveform nut per file, built
// from the fixed 632-byte header. Data samples are never decoded,
// only counted, matching the reference set's "content attached only
// when requested" contract.
package sac

import (
	"encoding/binary"
	"math"
	"os"
	"strings"
	"time"

	"github.com/pyrocko/squirrel/internal/backend"
	"github.com/pyrocko/squirrel/internal/model"
)

const FormatTag = "sac"

const headerLen = 632

// SAC's documented sentinel for an unset float header field.
const undefinedFloat = float32(-12345.0)

type header struct {
	order  binary.ByteOrder
	delta  float32
	b, e   float32
	nzyear int32
	nzjday int32
	nzhour int32
	nzmin  int32
	nzsec  int32
	nzmsec int32
	npts   int32
	knetwk string
	kstnm  string
	kcmpnm string
	khole  string
}

func readString(b []byte) string {
	return strings.TrimSpace(strings.Trim(string(b), "\x00"))
}

func parseHeader(raw []byte) (header, bool) {
	if len(raw) < headerLen {
		return header{}, false
	}

	tryOrder := func(order binary.ByteOrder) (header, bool) {
		nvhdr := int32(order.Uint32(raw[76*4 : 77*4]))
		if nvhdr < 1 || nvhdr > 20 {
			return header{}, false
		}
		h := header{order: order}
		h.delta = math.Float32frombits(order.Uint32(raw[0:4]))
		h.b = math.Float32frombits(order.Uint32(raw[5*4 : 6*4]))
		h.e = math.Float32frombits(order.Uint32(raw[6*4 : 7*4]))
		h.nzyear = int32(order.Uint32(raw[70*4 : 71*4]))
		h.nzjday = int32(order.Uint32(raw[71*4 : 72*4]))
		h.nzhour = int32(order.Uint32(raw[72*4 : 73*4]))
		h.nzmin = int32(order.Uint32(raw[73*4 : 74*4]))
		h.nzsec = int32(order.Uint32(raw[74*4 : 75*4]))
		h.nzmsec = int32(order.Uint32(raw[75*4 : 76*4]))
		h.npts = int32(order.Uint32(raw[79*4 : 80*4]))
		h.kstnm = readString(raw[440:448])
		h.khole = readString(raw[464:472])
		h.kcmpnm = readString(raw[600:608])
		h.knetwk = readString(raw[608:616])
		return h, true
	}

	if h, ok := tryOrder(binary.LittleEndian); ok {
		return h, true
	}
	if h, ok := tryOrder(binary.BigEndian); ok {
		return h, true
	}
	return header{}, false
}

func Detect(sniff []byte) string {
	if _, ok := parseHeader(sniff); ok {
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

func (b *Backend) ILoad(format, path string, segment *int64, contentKinds []model.Kind, yield func(model.Nut) error) error {
	if segment != nil && *segment != 0 {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return &model.FileLoadError{Path: path, Err: err}
	}
	h, ok := parseHeader(raw)
	if !ok {
		return &model.FileLoadError{Path: path, Err: errNotSAC(path)}
	}

	fi, err := os.Stat(path)
	if err != nil {
		return &model.FileLoadError{Path: path, Err: err}
	}

	reftime := time.Date(int(h.nzyear), 1, 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, int(h.nzjday)-1).
		Add(time.Duration(h.nzhour)*time.Hour +
			time.Duration(h.nzmin)*time.Minute +
			time.Duration(h.nzsec)*time.Second +
			time.Duration(h.nzmsec)*time.Millisecond)

	tmin := float64(reftime.Unix())
	if h.b != undefinedFloat {
		tmin += float64(h.b)
	}
	tmax := tmin
	if h.e != undefinedFloat {
		tmax = float64(reftime.Unix()) + float64(h.e)
	} else if h.npts > 0 && h.delta != undefinedFloat {
		tmax = tmin + float64(h.npts-1)*float64(h.delta)
	}

	agency := ""
	if h.knetwk != "" {
		agency = "FDSN"
	}
	deltat := float64(h.delta)
	if h.delta == undefinedFloat || h.delta <= 0 {
		deltat = 0
	}

	n, err := model.New(model.Nut{
		FilePath:    path,
		FileFormat:  FormatTag,
		FileMTime:   fi.ModTime(),
		FileSize:    fi.Size(),
		FileSegment: 0,
		FileElement: 0,
		Kind:        model.Waveform,
		Codes:       model.Codes{agency, h.knetwk, h.kstnm, h.khole, h.kcmpnm, ""},
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
			n.Content = struct{ NumSamples int }{int(h.npts)}
		}
	}

	return yield(n)
}

type errNotSAC string

func (e errNotSAC) Error() string { return "not a SAC file: " + string(e) }
